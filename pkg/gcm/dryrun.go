package gcm

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/tinywideclouds/go-gcm-service/pkg/dispatch"
)

func (d *Dispatcher) logDryRun(tokens []string, text string, payloadData map[string]string, args dispatch.Args) {
	d.logger.Info(dryRunSummary(tokens, text, payloadData, args),
		"dry_run", true,
		"token_count", len(tokens),
	)
}

// dryRunSummary renders the intended delivery as plain text, payload and
// arguments as sorted key=value pairs.
func dryRunSummary(tokens []string, text string, payloadData map[string]string, args dispatch.Args) string {
	payload := url.Values{}
	for k, v := range payloadData {
		payload.Set(k, v)
	}
	options := url.Values{}
	for _, name := range args.Names() {
		for _, v := range args.Positional(name) {
			options.Add(name, fmt.Sprint(v))
		}
	}

	var b strings.Builder
	b.WriteString("Sending push notifications to " + strings.Join(tokens, ", ") + "\n")
	b.WriteString("message: " + text + "\n")
	b.WriteString("payload data: " + strings.ReplaceAll(payload.Encode(), "&", ", ") + "\n")
	b.WriteString("arguments: " + strings.ReplaceAll(options.Encode(), "&", ", "))
	return b.String()
}
