package config

import (
	"fmt"
	"os"
)

// Template returns the commented starter configuration.
func Template() string {
	return regctlTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(regctlTemplate), 0o600)
}

const regctlTemplate = `# regctl configuration

# Refuse to start registrations when false.
allow_registration = true

# Pre-seeded provider; leave empty to choose one per attempt.
registration_domain = ""
providers_link = "https://providers.xmpp.net/"

# host:port for the Prometheus endpoint; empty disables it.
metrics_addr = ""

[transport]
# Empty resolves _xmpp-client._tcp SRV records for the domain.
address = ""
connect_timeout = "5s"
handshake_timeout = "10s"
write_timeout = "10s"
response_timeout = "30s"
security_mode = "development"
# starttls | required | direct | disabled
tls_mode = "starttls"
ca_file = ""
server_name = ""
insecure_skip_verify = false
max_connect_attempts = 3
backoff_initial = "250ms"
backoff_max = "5s"

[tracing]
enabled = false
# stdout | file | none
exporter = "stdout"
file_path = ""
service_name = "regctl"
sample_rate = 1.0
`
