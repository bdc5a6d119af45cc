package logging

import "fmt"

// GenerateLogrotateConfig creates a logrotate configuration for a component
func GenerateLogrotateConfig(component string) string {
	return fmt.Sprintf(`# Logrotate configuration for platewatch %s
# Install: sudo cp this file to /etc/logrotate.d/platewatch-%s

/var/log/platewatch/%s.log {
    # Rotate daily
    daily

    # Keep 14 days of logs
    rotate 14

    # Compress old logs
    compress
    delaycompress

    # Don't error if log is missing
    missingok

    # Don't rotate empty logs
    notifempty

    # Create new log with these permissions
    create 0644 platewatch platewatch

    # Run postrotate script only once for all logs
    sharedscripts

    # Reload service after rotation
    postrotate
        systemctl reload platewatch-%s 2>/dev/null || true
    endscript
}
`, component, component, component, component)
}

// GenerateSupervisorLogrotate generates logrotate config for platewatchd
func GenerateSupervisorLogrotate() string {
	return GenerateLogrotateConfig("platewatchd")
}

// GenerateAPILogrotate generates logrotate config for lprd
func GenerateAPILogrotate() string {
	return GenerateLogrotateConfig("lprd")
}
