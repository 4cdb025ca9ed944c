package config

// EmbeddedSecret is the base64url license secret compiled into release
// builds:
//
//	go build -ldflags "-X macrotool/internal/config.EmbeddedSecret=<secret>"
//
// It is used when neither the config file nor the environment provides one.
var EmbeddedSecret string
