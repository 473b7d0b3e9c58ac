package discord_bot

import "context"

type Bot interface {
	// Start serves interactions until ctx is done, then removes the bot's
	// commands and closes the gateway connection.
	Start(ctx context.Context)
}
