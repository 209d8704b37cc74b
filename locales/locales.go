// Package locales embeds the bot's message catalogues, one <lang>.json per language.
package locales

import "embed"

//go:embed *.json
var FS embed.FS
