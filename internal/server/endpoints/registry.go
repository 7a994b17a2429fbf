package endpoints

import (
	"github.com/jackzampolin/tome/internal/api"
)

// All returns every endpoint instance in registration order.
func All() []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},

		// Enrichment endpoints
		&EnrichISBNEndpoint{},
		&EnrichSearchEndpoint{},
		&EnrichEditionsEndpoint{},
		&EnrichBatchEndpoint{},

		// Upload pipelines
		&ImportCSVEndpoint{},
		&ScanShelfEndpoint{},

		// Job state endpoints
		&JobListEndpoint{},
		&JobGetEndpoint{},
		&JobCancelEndpoint{},
		&JobTokenRefreshEndpoint{},
		&JobDeleteEndpoint{},

		// Live progress
		&WSProgressEndpoint{},
	}
}

// EnrichCommands groups enrichment endpoints under the "enrich" subcommand.
func EnrichCommands() []api.Endpoint {
	return []api.Endpoint{
		&EnrichISBNEndpoint{},
		&EnrichSearchEndpoint{},
		&EnrichEditionsEndpoint{},
		&EnrichBatchEndpoint{},
	}
}

// JobCommands groups job state endpoints under the "jobs" subcommand.
func JobCommands() []api.Endpoint {
	return []api.Endpoint{
		&JobListEndpoint{},
		&JobGetEndpoint{},
		&JobCancelEndpoint{},
		&JobTokenRefreshEndpoint{},
		&JobDeleteEndpoint{},
		&WSProgressEndpoint{},
	}
}

// ImportCommands groups upload pipelines under the "import" subcommand.
func ImportCommands() []api.Endpoint {
	return []api.Endpoint{
		&ImportCSVEndpoint{},
	}
}

// ScanCommands groups scan pipelines under the "scan" subcommand.
func ScanCommands() []api.Endpoint {
	return []api.Endpoint{
		&ScanShelfEndpoint{},
	}
}
