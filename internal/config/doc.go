// Package config loads the provisioner configuration file.
//
// The file is YAML and is read once at startup. Anything it leaves out
// keeps the value from Default, so a minimal file only names what differs:
//
//	version: 1
//	portal:
//	  ap_password: pluvion123
//	  timeout: 3m
//	radio:
//	  interface: wlp2s0
//
// Durations use Go syntax ("90s", "3m").
//
// # Configuration File Location
//
// Unless --config names another file, the configuration is looked up in
// platform-appropriate locations:
//   - Linux: $XDG_CONFIG_HOME/pluvion/provisioner.yaml or $HOME/.config/pluvion/provisioner.yaml
//   - macOS: $HOME/.config/pluvion/provisioner.yaml
//   - Windows: %LOCALAPPDATA%\pluvion\provisioner.yaml
//
// A missing file is not an error.
//
// # Station settings
//
// Latitude, bucket volume and the other station settings are not kept
// here. They live on the flash store under storage.root, where the portal
// writes them.
package config
