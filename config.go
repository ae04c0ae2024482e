package go_oscar

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Session configuration
//
// Properties resolve in three layers, lowest to highest: built-in
// defaults, the ~/.oscarrc dotenv file, and OSCAR_* environment
// variables. The environment key for a property is its dotted name
// uppercased with dots replaced by underscores, so "oscar.auth.host"
// reads OSCAR_AUTH_HOST.

// rcFileName is the per-user configuration file, in dotenv syntax.
const rcFileName = ".oscarrc"

func defaultSessionProperties() map[string]string {
	props := map[string]string{
		"oscar.auth.host":         "login.oscar.aol.com",
		"oscar.auth.port":         "5190",
		"oscar.auth.tls":          "false",
		"oscar.auth.tls.insecure": "false",
	}
	mergeRcFile(props)
	return props
}

// mergeRcFile overlays ~/.oscarrc onto the defaults. A missing file is
// normal; a malformed one logs and is otherwise ignored.
func mergeRcFile(props map[string]string) {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	path := filepath.Join(home, rcFileName)
	if _, err := os.Stat(path); err != nil {
		return
	}
	values, err := godotenv.Read(path)
	if err != nil {
		Warning("cannot parse %s: %v", path, err)
		return
	}
	for key, value := range values {
		props[envToProperty(key)] = value
	}
	Debug("loaded %d properties from %s", len(values), path)
}

// envToProperty converts OSCAR_AUTH_HOST to oscar.auth.host. Keys
// already in dotted form pass through.
func envToProperty(key string) string {
	if strings.Contains(key, ".") {
		return strings.ToLower(key)
	}
	return strings.ReplaceAll(strings.ToLower(key), "_", ".")
}

// propertyToEnv converts oscar.auth.host to OSCAR_AUTH_HOST.
func propertyToEnv(name string) string {
	return strings.ReplaceAll(strings.ToUpper(name), ".", "_")
}

// property resolves a configuration value: environment first, then
// rc-file/defaults.
func (s *Session) property(name string) string {
	if v, ok := os.LookupEnv(propertyToEnv(name)); ok {
		return v
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.properties[name]
}

// SetProperty overrides a configuration value for this session only.
func (s *Session) SetProperty(name, value string) {
	s.mu.Lock()
	if s.properties == nil {
		s.properties = make(map[string]string)
	}
	s.properties[name] = value
	s.mu.Unlock()
}
