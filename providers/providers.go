// Package providers registers the built-in media providers with channel_archiver.DefaultProviderRegistry.
package providers

import (
	_ "github.com/alanbriolat/channel-archiver/provider/youtube"
)
