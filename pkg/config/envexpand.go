package config

import "os"

// ExpandEnv rewrites ${VAR}/$VAR references in a raw YAML document before
// it is parsed, exactly like the teacher's pkg/config/envexpand.go, so
// secrets (API keys, DSNs) never have to be written into the YAML file
// itself.
func ExpandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}
