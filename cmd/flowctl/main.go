// Command flowctl runs a single flow from the command line and prints or
// writes its JSON output. It is meant for prompt work: edit a template, rerun
// the flow, diff the output.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"kisanbazaar/internal/flow"
	"kisanbazaar/internal/llm"
	"kisanbazaar/internal/media"
	"kisanbazaar/internal/observability"
	"kisanbazaar/internal/prompt"
)

func main() {
	flowID := flag.String("flow", "", "flow id, see -list")
	in := flag.String("in", "-", "input JSON file, - for stdin")
	outDir := flag.String("out", "", "write <flow>.json into this directory instead of stdout")
	model := flag.String("model", "gemini-2.5-flash", "Gemini model id")
	fake := flag.Bool("fake", false, "use the offline fake model")
	list := flag.Bool("list", false, "list flow ids and exit")
	flag.Parse()

	log := observability.NewLogger(os.Stderr, "info", "flowctl", "local", true)

	if *list {
		for _, id := range flowIDs() {
			fmt.Println(id)
		}
		return
	}
	if *flowID == "" {
		log.Fatal().Msg("--flow is required")
	}

	_ = godotenv.Load()
	ctx := context.Background()

	client, err := newClient(ctx, *fake, *model, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init model")
	}
	defer client.Close()

	raw, err := readInput(*in)
	if err != nil {
		log.Fatal().Err(err).Msg("read input")
	}
	g, err := newGateway(client, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init gateway")
	}
	out, err := run(ctx, g, *flowID, raw)
	if err != nil {
		log.Fatal().Err(err).Str("flow", *flowID).Msg("flow failed")
	}

	b, _ := json.MarshalIndent(out, "", "  ")
	if *outDir == "" {
		fmt.Println(string(b))
		return
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("create output dir")
	}
	path := filepath.Join(*outDir, safe(*flowID)+".json")
	if err := os.WriteFile(path, b, 0o644); err != nil {
		log.Fatal().Err(err).Msg("write output")
	}
	log.Info().Str("path", path).Msg("flow completed")
}

func newClient(ctx context.Context, fake bool, model string, log zerolog.Logger) (llm.Client, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if fake || apiKey == "" {
		if !fake {
			log.Warn().Msg("GEMINI_API_KEY is not set, using the fake model")
		}
		return llm.NewFakeClient(), nil
	}
	return llm.NewGeminiClient(ctx, llm.GeminiConfig{APIKey: apiKey, Model: model})
}

func newGateway(client llm.Client, log zerolog.Logger) (*flow.Gateway, error) {
	engine, err := prompt.NewEngine()
	if err != nil {
		return nil, err
	}
	store, err := media.NewMemoryStore(16)
	if err != nil {
		return nil, err
	}
	return flow.NewGateway(llm.Wrap(client, llm.WithLogging(log)), engine, store, flow.Options{Logger: log})
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func safe(s string) string {
	return strings.ReplaceAll(filepath.ToSlash(filepath.Clean(s)), "/", "_")
}

func flowIDs() []string {
	ids := make([]string, 0, len(runners))
	for id := range runners {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
