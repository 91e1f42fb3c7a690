// Smoke check against a running backend: log in, resolve a channel by
// name, fetch its history and print it. Useful when wiring a new
// environment before touching the interactive client.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/ndanh/guildchat/pkg/auth"
	"github.com/ndanh/guildchat/pkg/chat"
	"github.com/ndanh/guildchat/pkg/rest"
)

func main() {
	_ = godotenv.Load()

	backendURL := flag.String("backend", os.Getenv("BACKEND_URL"), "backend base URL")
	apikey := flag.String("apikey", os.Getenv("BACKEND_APIKEY"), "backend api key")
	email := flag.String("email", os.Getenv("CHAT_EMAIL"), "login email")
	password := flag.String("password", os.Getenv("CHAT_PASSWORD"), "login password")
	guildID := flag.Int64("guild", 1, "guild id")
	channel := flag.String("channel", "general", "channel name")
	flag.Parse()

	ctx := context.Background()

	sessions := auth.New(*backendURL, *apikey)
	if err := sessions.Login(ctx, *email, *password); err != nil {
		log.Fatal("Login failed: ", err)
	}
	session, _ := sessions.Session(ctx)
	log.Printf("Token: %.10s...", session.AccessToken)

	client := rest.New(*backendURL, *apikey, sessions)
	service := chat.NewService(client, client, sessions)

	ch, found, err := service.ResolveChannel(ctx, *guildID, *channel)
	if err != nil {
		log.Fatal("Channel lookup failed: ", err)
	}
	if !found {
		log.Fatalf("No channel named %q in guild %d", *channel, *guildID)
	}

	log.Printf("Fetching history for #%s (id %d)...", ch.Name, ch.ID)
	msgs, err := service.FetchMessages(ctx, ch.ID)
	if err != nil {
		log.Fatal("History request failed: ", err)
	}
	for _, m := range msgs {
		log.Printf("%s %s: %s (attachments: %d)", m.CreatedAt.Format("15:04:05"), m.AuthorID, m.Content, len(m.Attachments))
	}
	log.Printf("%d messages", len(msgs))
}
