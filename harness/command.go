package harness

import (
	"fmt"
	"os"
)

// ConsumerSubcommand is the argument that switches the ipcbench binary
// into consumer mode.
const ConsumerSubcommand = "consumer"

// CommandConfig holds the resolved command, leading arguments and extra
// environment used to start a consumer process. The method name and the
// transport's own arguments are appended after ExtraArgs.
type CommandConfig struct {
	Binary    string
	ExtraArgs []string
	Env       []string
}

// ResolveBinary returns the consumer binary: override when set, otherwise
// the running executable, which doubles as the consumer.
func ResolveBinary(override string) (string, error) {
	if override != "" {
		if _, err := os.Stat(override); err != nil {
			return "", fmt.Errorf("consumer binary %s: %w", override, err)
		}

		return override, nil
	}

	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve own executable: %w", err)
	}

	return exe, nil
}

// WrapCommand returns the exec configuration that runs binary in consumer
// mode.
func WrapCommand(binary string) CommandConfig {
	return CommandConfig{
		Binary:    binary,
		ExtraArgs: []string{ConsumerSubcommand},
	}
}
