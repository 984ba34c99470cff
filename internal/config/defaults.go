package config

// DefaultHostAddr is the default termsync host address.
const DefaultHostAddr = "127.0.0.1:1619"
