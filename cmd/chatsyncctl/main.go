package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/paths"
	"github.com/matheus3301/chatsync/internal/transport/poll"
)

func main() {
	conversationFlag := flag.String("conversation", "", "conversation id (overrides config default)")
	configFlag := flag.String("config", "", "config file (default $CHATSYNC_HOME/config.toml)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	configPath := *configFlag
	if configPath == "" {
		configPath = paths.ConfigPath()
	}
	cfg, err := config.LoadEffective(configPath, paths.EnvPath(), ".env")
	if err != nil {
		fail(err)
	}
	conversationID, err := paths.Resolve(*conversationFlag, cfg)
	if err != nil {
		fail(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "fetch", "send", "upload":
		c, err := poll.NewClient(cfg.BaseURL, poll.Credentials{CSRFToken: cfg.CSRFToken, SessionCookie: cfg.SessionCookie})
		if err != nil {
			fail(err)
		}
		runDirect(ctx, c, conversationID, args, *jsonFlag)
	case "status", "messages", "post", "pause", "resume", "poll", "outbox":
		c := api.NewClient(paths.SocketPath(conversationID))
		defer func() { _ = c.Close() }()
		runDaemon(ctx, c, args, *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatsyncctl [--conversation <id>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "backend commands:")
	fmt.Fprintln(os.Stderr, "  fetch [since]      Fetch messages newer than an ISO-8601 timestamp")
	fmt.Fprintln(os.Stderr, "  send <text>        Send a text message")
	fmt.Fprintln(os.Stderr, "  upload <file>      Upload an attachment")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "daemon commands:")
	fmt.Fprintln(os.Stderr, "  status             Show synchronizer status")
	fmt.Fprintln(os.Stderr, "  messages [n]       Show the timeline (last n entries)")
	fmt.Fprintln(os.Stderr, "  post <text>        Send through the running synchronizer")
	fmt.Fprintln(os.Stderr, "  pause | resume     Stop or restart intake")
	fmt.Fprintln(os.Stderr, "  poll               Fetch now")
	fmt.Fprintln(os.Stderr, "  outbox             Show the send log")
}

func runDirect(ctx context.Context, c *poll.Client, conversationID string, args []string, jsonOut bool) {
	switch args[0] {
	case "fetch":
		var since time.Time
		if len(args) > 1 {
			ts, err := model.ParseTimestamp(args[1])
			if err != nil {
				fail(err)
			}
			since = ts
		}
		res, err := c.FetchSince(ctx, conversationID, since)
		if err != nil {
			fail(err)
		}
		if jsonOut {
			outputJSON(res)
			return
		}
		for _, m := range res.Messages {
			printMessage(m.CreatedAt, string(m.Direction), m.ID, m.Body, string(m.DeliveryState))
		}
		for _, u := range res.StatusUpdates {
			fmt.Printf("status %s -> %s\n", u.ID, u.State)
		}
		fmt.Printf("next cursor: %s\n", model.FormatTimestamp(res.NextCursor))
	case "send":
		text := strings.TrimSpace(strings.Join(args[1:], " "))
		if text == "" {
			fail(fmt.Errorf("usage: chatsyncctl send <text>"))
		}
		m, err := c.SendMessage(ctx, conversationID, text)
		if err != nil {
			fail(err)
		}
		if jsonOut {
			outputJSON(m)
			return
		}
		if m == nil {
			fmt.Println("queued")
			return
		}
		fmt.Printf("sent %s\n", m.ID)
	case "upload":
		if len(args) < 2 {
			fail(fmt.Errorf("usage: chatsyncctl upload <file>"))
		}
		f, err := os.Open(args[1])
		if err != nil {
			fail(err)
		}
		defer func() { _ = f.Close() }()
		media, err := c.UploadMedia(ctx, conversationID, filepath.Base(args[1]), f)
		if err != nil {
			fail(err)
		}
		if jsonOut {
			outputJSON(media)
			return
		}
		fmt.Printf("media %s (%s)\n", media.ID, media.Type)
	}
}

func runDaemon(ctx context.Context, c *api.Client, args []string, jsonOut bool) {
	switch args[0] {
	case "status":
		st, err := c.Status(ctx)
		if err != nil {
			fail(err)
		}
		if jsonOut {
			outputJSON(st)
			return
		}
		fmt.Printf("Conversation: %s\n", st.Conversation)
		fmt.Printf("Mode:         %s\n", st.Mode)
		fmt.Printf("Connection:   %s\n", st.ConnState)
		fmt.Printf("Cursor:       %s\n", st.Cursor)
		fmt.Printf("Messages:     %d\n", st.Messages)
		fmt.Printf("Uptime:       %dms\n", st.UptimeMs)
		if st.Terminated {
			fmt.Println("Terminated:   yes")
		}
		if st.SendDisabled != "" {
			fmt.Printf("Send:         disabled (%s)\n", st.SendDisabled)
		}
	case "messages":
		limit := 0
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				fail(fmt.Errorf("invalid count %q", args[1]))
			}
			limit = n
		}
		resp, err := c.Messages(ctx, limit)
		if err != nil {
			fail(err)
		}
		if jsonOut {
			outputJSON(resp)
			return
		}
		if len(resp.Messages) == 0 {
			fmt.Println("No messages.")
			return
		}
		for _, m := range resp.Messages {
			printMessage(m.CreatedAt, m.Direction, m.ID, m.Body, m.DeliveryState)
		}
	case "post":
		resp, err := c.Send(ctx, strings.Join(args[1:], " "))
		if err != nil {
			fail(err)
		}
		if jsonOut {
			outputJSON(resp)
			return
		}
		fmt.Println("accepted")
	case "outbox":
		resp, err := c.Outbox(ctx)
		if err != nil {
			fail(err)
		}
		if jsonOut {
			outputJSON(resp)
			return
		}
		for _, e := range resp.Entries {
			line := fmt.Sprintf("%s  %-6s  %s", e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e.Status, e.Body)
			if e.Error != "" {
				line += "  (" + e.Error + ")"
			}
			fmt.Println(line)
		}
	case "pause", "resume", "poll":
		var (
			resp *api.ActionResponse
			err  error
		)
		switch args[0] {
		case "pause":
			resp, err = c.Pause(ctx)
		case "resume":
			resp, err = c.Resume(ctx)
		default:
			resp, err = c.Poll(ctx)
		}
		if err != nil {
			fail(err)
		}
		if jsonOut {
			outputJSON(resp)
			return
		}
		fmt.Printf("Success: %v - %s\n", resp.Success, resp.Message)
	}
}

func printMessage(at time.Time, direction, id, body, state string) {
	arrow := "<"
	if direction == string(model.Outbound) {
		arrow = ">"
	}
	line := fmt.Sprintf("%s %s [%s] %s", at.Local().Format("2006-01-02 15:04:05"), arrow, id, body)
	if state != "" {
		line += " (" + state + ")"
	}
	fmt.Println(line)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
