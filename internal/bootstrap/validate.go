package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"git.home.luguber.info/inful/previewd/internal/failure"
	"git.home.luguber.info/inful/previewd/internal/observability"
	"git.home.luguber.info/inful/previewd/internal/runtime"
	"git.home.luguber.info/inful/previewd/internal/sandbox"
)

const statusMarker = "__STATUS__"

// routeProbeCommand builds the in-sandbox script that fetches the dev
// server's own port with a fetch-level timeout and echoes status plus body.
func routeProbeCommand(port int, timeoutMs int) string {
	return fmt.Sprintf(
		`node -e "fetch('http://localhost:%d/',{signal:AbortSignal.timeout(%d)}).then(async r=>{process.stdout.write('%s'+r.status+'\n'+await r.text())}).catch(e=>{console.error(String(e));process.exit(1)})"`,
		port, timeoutMs, statusMarker)
}

// parseProbeOutput splits "__STATUS__<code>\n<body>"; a missing marker is
// reported as status 0 with the raw output as body.
func parseProbeOutput(out string) (int, string) {
	if !strings.HasPrefix(out, statusMarker) {
		return 0, out
	}
	rest := out[len(statusMarker):]
	line, body, _ := strings.Cut(rest, "\n")
	status, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return 0, out
	}
	return status, body
}

// validateRoute executes the probe script, retrying transient-looking
// failures a bounded number of times. Fatal (compiler/runtime) signatures
// fail immediately; exhausting retries on transient signatures only is a
// soft success so slow warm-ups do not produce false negatives.
func (b *Bootstrapper) validateRoute(ctx context.Context, h *sandbox.Handle, profile runtime.Profile) error {
	ctx = observability.WithStage(ctx, string(failure.StageRouteValidation))
	command := routeProbeCommand(profile.Port, int(b.timings.RouteFetchTimeout.Milliseconds()))

	for attempt := 1; ; attempt++ {
		reason, ok := b.probeOnce(ctx, h, command)
		if ok {
			return nil
		}

		// Transient wins a tie: Node reports network errors as
		// "TypeError: fetch failed", which would otherwise read as fatal.
		if !failure.IsTransientRoute(reason) && failure.IsFatalRoute(reason) {
			return failure.NewStageError(failure.StageRouteValidation, command, firstLine(reason),
				fmt.Errorf("route validation failed: %s", firstLine(reason)))
		}

		if attempt >= b.timings.RouteProbeMaxAttempts {
			if failure.IsTransientRoute(reason) {
				observability.WarnContext(ctx, "route validation inconclusive, accepting host",
					slog.String("reason", firstLine(reason)), slog.Int("attempts", attempt))
				return nil
			}
			return failure.NewStageError(failure.StageRouteValidation, command, firstLine(reason),
				fmt.Errorf("route validation failed after %d attempts: %s", attempt, firstLine(reason)))
		}

		observability.DebugContext(ctx, "route validation retry",
			slog.Int("attempt", attempt), slog.String("reason", firstLine(reason)))
		if err := b.sleep(ctx, b.timings.RouteProbeRetryDelay); err != nil {
			return failure.NewStageError(failure.StageRouteValidation, command, "", err)
		}
	}
}

// probeOnce runs the validation script once. Returns (reason, false) on any
// non-acceptance, with reason carrying enough of the response to classify.
func (b *Bootstrapper) probeOnce(ctx context.Context, h *sandbox.Handle, command string) (string, bool) {
	res, err := b.api.RunCommand(ctx, h, command, b.timings.RouteFetchTimeout+15*time.Second)
	if err != nil {
		return err.Error(), false
	}
	if res.ExitCode != 0 {
		reason := res.Combined()
		if strings.TrimSpace(reason) == "" {
			reason = "empty body"
		}
		return reason, false
	}

	status, body := parseProbeOutput(res.Stdout)
	if ok, reason := AcceptResponse(status, body); !ok {
		return reason, false
	}
	return "", true
}

// AcceptResponse applies the acceptance rule: status below 500 and, after
// stripping script/style/noscript content, recognizable block-level markup or
// non-empty text remains.
func AcceptResponse(status int, body string) (bool, string) {
	text, hasBlock := stripAndInspect(body)
	if status >= 500 || status == 0 {
		return false, fmt.Sprintf("status %d: %s", status, truncate(text, 200))
	}
	if hasBlock || strings.TrimSpace(text) != "" {
		return true, ""
	}
	return false, "empty body"
}

var blockTags = map[string]bool{
	"div": true, "main": true, "section": true, "article": true,
	"header": true, "footer": true, "nav": true, "aside": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"p": true, "ul": true, "ol": true, "li": true, "table": true,
	"form": true, "pre": true, "canvas": true,
}

var strippedTags = map[string]bool{"script": true, "style": true, "noscript": true}

// stripAndInspect parses the body, drops script/style/noscript subtrees, and
// reports the remaining text plus whether any block-level element was seen.
func stripAndInspect(body string) (string, bool) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		// Unparsable responses are judged on raw text alone.
		return body, false
	}

	var text strings.Builder
	hasBlock := false
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if strippedTags[n.Data] {
				return
			}
			if blockTags[n.Data] {
				hasBlock = true
			}
		}
		if n.Type == html.TextNode {
			text.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return text.String(), hasBlock
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
