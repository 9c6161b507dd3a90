package backend

import (
	"fmt"

	"bilancio/internal/config"
)

// FromAppConfig converts the application config to backend config. The
// actor id comes from the local database, not the environment, so it is a
// separate argument.
func FromAppConfig(appConfig *config.Config, actor string) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := Type(appConfig.ReplicaBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.ReplicaBackend)
	}

	return Config{
		Type:  backendType,
		Actor: actor,

		AMQPURL:      appConfig.AMQPURL,
		AMQPExchange: appConfig.AMQPExchange,
		AMQPQueue:    appConfig.AMQPQueue,

		GoogleSpreadsheetID: appConfig.GoogleSpreadsheetID,
		GoogleSheetName:     appConfig.GoogleSheetName,
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}
	if c.Actor == "" {
		return fmt.Errorf("actor id is required")
	}

	if c.Type == SheetsBackend {
		if c.GoogleSpreadsheetID == "" {
			return fmt.Errorf("Google Spreadsheet ID is required for sheets backend")
		}
		if c.AMQPURL == "" {
			return fmt.Errorf("AMQP URL is required for sheets backend")
		}
		if c.AMQPExchange == "" {
			return fmt.Errorf("AMQP exchange is required for sheets backend")
		}
		if c.AMQPQueue == "" {
			return fmt.Errorf("AMQP queue is required for sheets backend")
		}
	}

	return nil
}
