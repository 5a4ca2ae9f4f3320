// Command weft runs the agent execution engine: it starts or resumes a
// workflow, or delivers an approval resolution to a suspended one.
//
//	weft -task "file the quarterly report"
//	weft -run <workflow-id>
//	weft -resolve <workflow-id> -action approve -data '{"title":"Q3"}'
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/shaneholloman/weft/internal/agent"
	"github.com/shaneholloman/weft/internal/auth"
	"github.com/shaneholloman/weft/internal/bridge"
	"github.com/shaneholloman/weft/internal/capability"
	"github.com/shaneholloman/weft/internal/config"
	"github.com/shaneholloman/weft/internal/host"
	"github.com/shaneholloman/weft/internal/metrics"
	"github.com/shaneholloman/weft/internal/model"
	"github.com/shaneholloman/weft/internal/protocol"
	"github.com/shaneholloman/weft/internal/state/store"
	"github.com/shaneholloman/weft/internal/stream"
	"github.com/shaneholloman/weft/internal/transport"
	"github.com/shaneholloman/weft/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	task := flag.String("task", "", "start a new workflow for this task")
	run := flag.String("run", "", "run or resume the workflow with this id")
	resolve := flag.String("resolve", "", "deliver a resolution to this workflow id")
	action := flag.String("action", "", "resolution action: approve | request_changes | cancel")
	feedback := flag.String("feedback", "", "resolution feedback text")
	data := flag.String("data", "", "resolution data as JSON (user-edited arguments)")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get())
		os.Exit(0)
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("weft: .env: %v", err)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("weft: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := realMain(ctx, cfg, *task, *run, *resolve, *action, *feedback, *data); err != nil {
		log.Fatalf("weft: %v", err)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Parse(nil)
	}
	return config.Load(path)
}

func realMain(ctx context.Context, cfg *config.Config, task, run, resolve, action, feedback, data string) error {
	st, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	bcast := stream.New(cfg.Redis.Addr)
	defer bcast.Close()

	h := host.New(st, host.WithBroadcaster(bcast))

	if resolve != "" {
		return deliverResolution(ctx, h, resolve, action, feedback, data)
	}
	if task == "" && run == "" {
		return fmt.Errorf("nothing to do: pass -task, -run or -resolve")
	}

	var m *metrics.Metrics
	if cfg.Metrics.Listen != "" {
		m = metrics.New()
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.Metrics.Listen, mux); err != nil {
				log.Printf("weft: metrics listener: %v", err)
			}
		}()
	}

	creds := auth.NewStore(cfg.Credentials.File)
	if err := creds.Load(); err != nil {
		return fmt.Errorf("credential store: %w", err)
	}

	// Hosted capability providers register here when weft is embedded;
	// the standalone binary runs with remote servers only.
	registry, err := capability.NewRegistry(nil)
	if err != nil {
		return err
	}

	remotes := make([]bridge.RemoteServer, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		remotes = append(remotes, bridge.RemoteServer{
			Name:        s.Name,
			Endpoint:    s.Endpoint,
			Transport:   bridge.TransportKind(s.Transport),
			AuthMode:    auth.Mode(s.AuthMode),
			AccessToken: s.AccessToken,
		})
	}
	tcfg := transportConfig(cfg)
	schemas := fetchSchemas(ctx, cfg, tcfg)
	br := bridge.New(registry, creds, remotes,
		bridge.WithSchemaSource(func(name string) []capability.ToolSchema { return schemas[name] }),
		bridge.WithTransportConfig(tcfg))

	client, err := buildModelClient(cfg)
	if err != nil {
		return err
	}

	waitTimeout, err := cfg.Agent.Timeout()
	if err != nil {
		return err
	}
	active := cfg.Agent.Servers
	if len(active) == 0 {
		for _, s := range cfg.Servers {
			active = append(active, s.Name)
		}
	}
	loop := agent.New(h, br, client, registry,
		agent.WithServers(active...),
		agent.WithMaxTurns(cfg.Agent.MaxTurns),
		agent.WithApprovalTimeout(waitTimeout),
		agent.WithSystemPrompt(cfg.Agent.SystemPrompt),
		agent.WithMetrics(m))

	id := run
	if task != "" {
		rec, err := h.CreateWorkflow(ctx, task)
		if err != nil {
			return err
		}
		id = rec.ID
		log.Printf("weft: workflow %s created", id)
	}

	result, err := loop.Run(ctx, id)
	if err != nil {
		return fmt.Errorf("workflow %s: %w", id, err)
	}
	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
	return nil
}

func buildModelClient(cfg *config.Config) (model.Client, error) {
	switch cfg.Model.Provider {
	case "openai":
		var opts []model.OpenAIOption
		if cfg.Model.Name != "" {
			opts = append(opts, model.WithOpenAIModel(cfg.Model.Name))
		}
		return model.NewOpenAIClient(cfg.Model.BaseURL, cfg.Model.APIKey, opts...), nil
	case "anthropic", "":
		var opts []model.AnthropicOption
		if cfg.Model.Name != "" {
			opts = append(opts, model.WithAnthropicModel(cfg.Model.Name))
		}
		return model.NewAnthropicClient(cfg.Model.BaseURL, cfg.Model.APIKey, opts...), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Model.Provider)
	}
}

func openStore(cfg *config.Config) (host.Store, func(), error) {
	switch cfg.State.Driver {
	case "postgres":
		st, err := store.OpenPostgres(cfg.State.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { _ = st.Close() }, nil
	case "sqlite", "":
		db, err := store.Open(cfg.State.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return store.NewWorkflowStore(db), func() { _ = db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown state driver %q", cfg.State.Driver)
	}
}

func deliverResolution(ctx context.Context, h *host.Host, id, action, feedback, data string) error {
	res := &agent.Resolution{Action: action, Feedback: feedback}
	if data != "" {
		if err := json.Unmarshal([]byte(data), &res.Data); err != nil {
			return fmt.Errorf("-data: %w", err)
		}
	}
	switch action {
	case agent.ResolutionApprove, agent.ResolutionRequestChanges, agent.ResolutionCancel:
	default:
		return fmt.Errorf("unknown -action %q", action)
	}
	if err := h.Resolve(ctx, id, res); err != nil {
		return err
	}
	log.Printf("weft: resolution %q delivered to workflow %s", action, id)
	return nil
}

// transportConfig builds the timeout template shared by the startup
// schema fetch and every remote call the bridge makes.
func transportConfig(cfg *config.Config) transport.Config {
	tcfg := transport.Config{}
	if d, err := time.ParseDuration(cfg.Transports.ConnectTimeout); err == nil {
		tcfg.ConnectTimeout = d
	}
	if d, err := time.ParseDuration(cfg.Transports.ResponseTimeout); err == nil {
		tcfg.ResponseTimeout = d
	}
	return tcfg
}

// fetchSchemas lists tools from each configured remote server once at
// startup so the bridge can advertise them in the catalogue. A server
// that is down just contributes nothing.
func fetchSchemas(ctx context.Context, cfg *config.Config, tcfg transport.Config) map[string][]capability.ToolSchema {
	schemas := make(map[string][]capability.ToolSchema)
	for _, s := range cfg.Servers {
		c := tcfg
		c.Endpoint = s.Endpoint
		if s.AuthMode == "oauth" {
			c.AuthToken = s.AccessToken
		}
		var t protocol.Transport
		switch s.Transport {
		case "sse":
			t = transport.NewSSE(c)
		default:
			t = transport.NewStreamable(c)
		}
		client := protocol.NewClient(s.Name, t)
		if _, err := client.Initialize(ctx); err != nil {
			log.Printf("weft: server %s: initialize: %v", s.Name, err)
			_ = client.Close()
			continue
		}
		tools, err := client.ListTools(ctx)
		if err != nil {
			log.Printf("weft: server %s: list tools: %v", s.Name, err)
		} else {
			schemas[s.Name] = tools
			log.Printf("weft: server %s: %d tool(s)", s.Name, len(tools))
		}
		_ = client.Close()
	}
	return schemas
}
