// ABOUTME: Minimal fake specialist for manual testing. Connects via websocket and echoes sub-requests.
// ABOUTME: Usage: fake-specialist [-addr localhost:8765] [-agent sherlock]

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/crewline/crew-gateway/internal/protocol"
	"github.com/crewline/crew-gateway/internal/specialist"
)

func main() {
	addr := flag.String("addr", "localhost:8765", "gateway address")
	agent := flag.String("agent", "sherlock", "specialist agent id to answer for")
	name := flag.String("name", "", "display name for registration (empty skips registration)")
	keywords := flag.String("keywords", "", "comma-separated routing keywords for registration")
	flag.Parse()

	if err := run(*addr, *agent, *name, *keywords); err != nil {
		log.Fatal(err)
	}
}

func run(addr, agent, name, keywords string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if name != "" {
		if err := register(ctx, addr, agent, name, keywords); err != nil {
			return fmt.Errorf("registering specialist: %w", err)
		}
		fmt.Fprintf(os.Stderr, "registered %s at %s\n", agent, addr)
	}

	sock, _, err := websocket.Dial(ctx, "ws://"+addr+"/ws", nil)
	if err != nil {
		return fmt.Errorf("dialing gateway: %w", err)
	}
	defer sock.Close(websocket.StatusNormalClosure, "done")

	for {
		var env protocol.Envelope
		if err := wsjson.Read(ctx, sock, &env); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading frame: %w", err)
		}

		switch env.Type {
		case protocol.TypeWelcome:
			fmt.Fprintf(os.Stderr, "connected (instance: %s)\n", env.InstanceID)

		case protocol.TypeAgentRequest:
			if env.Agent != agent {
				continue
			}
			reply := &protocol.Envelope{
				Type:      protocol.TypeAgentResponse,
				RequestID: env.RequestID,
				Agent:     agent,
				Response:  fmt.Sprintf("[%s] Looked at it: %s", agent, env.OriginalMessage),
				Timestamp: protocol.Now(),
			}
			if err := wsjson.Write(ctx, sock, reply); err != nil {
				return fmt.Errorf("writing response: %w", err)
			}
			fmt.Fprintf(os.Stderr, "answered request %s\n", env.RequestID)
		}
	}
}

// register announces the specialist profile over the HTTP side channel.
func register(ctx context.Context, addr, agent, name, keywords string) error {
	profile := specialist.Profile{
		AgentID:     agent,
		DisplayName: name,
	}
	if keywords != "" {
		profile.RoutingKeywords = strings.Split(keywords, ",")
	}

	body, err := json.Marshal(profile)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"http://"+addr+"/api/specialists", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("registration failed: status %d", resp.StatusCode)
	}
	return nil
}
