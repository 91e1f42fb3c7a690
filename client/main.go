package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/ndanh/guildchat/pkg/auth"
	"github.com/ndanh/guildchat/pkg/backend"
	"github.com/ndanh/guildchat/pkg/chat"
	"github.com/ndanh/guildchat/pkg/guild"
	"github.com/ndanh/guildchat/pkg/ident"
	"github.com/ndanh/guildchat/pkg/model"
	"github.com/ndanh/guildchat/pkg/profile"
	"github.com/ndanh/guildchat/pkg/realtime"
	"github.com/ndanh/guildchat/pkg/rest"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// app bundles the per-run state of the terminal client: one selected
// channel, one timeline, at most one live subscription.
type app struct {
	service   *chat.Service
	manager   *chat.Manager
	guilds    *guild.Manager
	directory *profile.Directory
	ids       *ident.Generator

	guildID  int64
	channel  *model.Channel
	timeline *chat.Timeline
	sub      *chat.Subscription
}

// openChannel switches the view to the named channel: tear down the old
// subscription, load history, then subscribe. The fetch must complete
// before the subscription goes live so events always land on a loaded
// baseline.
func (a *app) openChannel(ctx context.Context, name string) error {
	ch, found, err := a.service.ResolveChannel(ctx, a.guildID, name)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no channel named %q in guild %d", name, a.guildID)
	}

	if a.sub != nil {
		a.manager.Unsubscribe(ctx, a.sub)
		a.sub = nil
	}
	a.channel = ch
	a.timeline = chat.NewTimeline()

	history, err := a.service.FetchMessages(ctx, ch.ID)
	if err != nil {
		return err
	}
	a.timeline.SetHistory(history)
	for i := range history {
		a.printMessage(ctx, &history[i])
	}

	timeline := a.timeline
	sub, err := a.manager.Subscribe(ctx, ch.ID, func(ev chat.Event) {
		timeline.Apply(ev)
		if ev.Type != backend.ChangeDelete {
			a.printMessage(ctx, &ev.Message)
		}
	})
	if err != nil {
		// Degraded but usable: history is shown, live updates are not.
		log.Printf("live updates unavailable for #%s: %v", name, err)
	} else {
		a.sub = sub
	}

	fmt.Printf("-- #%s (%d messages) --\n> ", name, len(history))
	return nil
}

func (a *app) printMessage(ctx context.Context, m *model.Message) {
	name := a.directory.DisplayName(ctx, m.AuthorID)
	pin := ""
	if m.Pinned {
		pin = " [pinned]"
	}
	fmt.Printf("\r%s%s: %s\n", name, pin, m.Content)
	for _, key := range m.Attachments {
		fmt.Printf("\r  attachment: %s\n", a.service.AttachmentURL(key))
	}
	fmt.Print("> ")
}

func (a *app) send(ctx context.Context, content string, att *chat.Attachment) {
	temp := model.Message{
		ID:        a.ids.TempMessageID(),
		ChannelID: a.channel.ID,
		Content:   content,
	}
	timeline := a.timeline
	timeline.AddPending(temp)

	go func() {
		if att != nil {
			if c, ok := att.Body.(io.Closer); ok {
				defer c.Close()
			}
		}
		_, err := a.service.SendMessage(ctx, temp.ChannelID, content, att)
		// Drop the pending entry either way; on success the confirmed
		// copy arrives through the live feed.
		timeline.RemovePending(temp.ID)
		if err != nil {
			log.Printf("send failed: %v", err)
		}
	}()
}

func (a *app) togglePin(ctx context.Context, arg string, pinned bool) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		fmt.Println("usage: /pin <message-id> | /unpin <message-id>")
		return
	}
	msg, err := a.service.TogglePinned(ctx, id, pinned)
	if err != nil {
		log.Printf("pin toggle failed: %v", err)
		return
	}
	a.timeline.Upsert(*msg)
}

func main() {
	_ = godotenv.Load()

	backendURL := flag.String("backend", envOr("BACKEND_URL", "http://localhost:54321"), "backend base URL")
	wsURL := flag.String("ws", envOr("BACKEND_WS_URL", ""), "realtime websocket URL (default derived from -backend)")
	apikey := flag.String("apikey", envOr("BACKEND_APIKEY", ""), "backend api key")
	email := flag.String("email", envOr("CHAT_EMAIL", ""), "login email")
	password := flag.String("password", envOr("CHAT_PASSWORD", ""), "login password")
	token := flag.String("token", envOr("CHAT_TOKEN", ""), "pre-issued access token (overrides -email/-password)")
	guildID := flag.Int64("guild", 1, "guild id")
	channelName := flag.String("channel", "general", "channel name")
	flag.Parse()

	if *wsURL == "" {
		*wsURL = strings.Replace(*backendURL, "http", "ws", 1) + "/realtime/v1/websocket"
	}

	ctx := context.Background()

	sessions := auth.New(*backendURL, *apikey)
	switch {
	case *token != "":
		if err := sessions.SetToken(*token); err != nil {
			log.Fatal("bad token: ", err)
		}
	case *email != "":
		log.Printf("Logging in as %s...", *email)
		if err := sessions.Login(ctx, *email, *password); err != nil {
			log.Fatal("Login failed: ", err)
		}
	default:
		log.Fatal("need -token or -email/-password")
	}

	client := rest.New(*backendURL, *apikey, sessions)
	a := &app{
		service:   chat.NewService(client, client, sessions),
		manager:   chat.NewManager(realtime.New(*wsURL, *apikey), sessions),
		guilds:    guild.NewManager(client, sessions),
		directory: profile.NewDirectory(client),
		ids:       ident.New(),
		guildID:   *guildID,
	}

	if err := a.openChannel(ctx, *channelName); err != nil {
		log.Fatal(err)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			switch {
			case line == "":
			case line == "/quit":
				interrupt <- os.Interrupt
				return
			case strings.HasPrefix(line, "/join "):
				if err := a.openChannel(ctx, strings.TrimSpace(strings.TrimPrefix(line, "/join "))); err != nil {
					log.Print(err)
				}
			case strings.HasPrefix(line, "/pin "):
				a.togglePin(ctx, strings.TrimSpace(strings.TrimPrefix(line, "/pin ")), true)
			case strings.HasPrefix(line, "/unpin "):
				a.togglePin(ctx, strings.TrimSpace(strings.TrimPrefix(line, "/unpin ")), false)
			case line == "/pins":
				for _, m := range a.timeline.Pinned() {
					a.printMessage(ctx, &m)
				}
			case strings.HasPrefix(line, "/search "):
				keyword := strings.TrimPrefix(line, "/search ")
				for _, m := range chat.Filter(a.timeline.Messages(), keyword) {
					a.printMessage(ctx, &m)
				}
			case strings.HasPrefix(line, "/invite"):
				inv, err := a.guilds.CreateInvite(ctx, a.guildID)
				if err != nil {
					log.Print(err)
					break
				}
				fmt.Printf("invite code: %s\n", inv.ID)
			case strings.HasPrefix(line, "/attach "):
				args := strings.TrimSpace(strings.TrimPrefix(line, "/attach "))
				path, caption, _ := strings.Cut(args, " ")
				f, err := os.Open(path)
				if err != nil {
					log.Print(err)
					break
				}
				a.send(ctx, caption, &chat.Attachment{Name: filepath.Base(path), Body: f})
			case strings.HasPrefix(line, "/"):
				fmt.Println("commands: /join /pin /unpin /pins /search /invite /attach /quit")
			default:
				a.send(ctx, line, nil)
			}
			fmt.Print("> ")
		}
	}()

	<-interrupt
	log.Println("interrupt")
	if a.sub != nil {
		a.manager.Unsubscribe(ctx, a.sub)
	}
}
