package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/datalens/collab-service/config"
	"github.com/datalens/collab-service/internal/assistant"
	"github.com/datalens/collab-service/internal/session"
	"github.com/datalens/collab-service/internal/transport"
	"github.com/datalens/collab-service/internal/transport/redischannel"
	"github.com/datalens/collab-service/internal/transport/wschannel"
	"github.com/datalens/collab-service/pkg/logger"
)

// Терминальный клиент коллаборации: подключается к комнате через relay
// (websocket) или напрямую через Redis, читает сообщения из stdin.
func main() {
	room := flag.String("room", "default", "room to join")
	name := flag.String("name", "", "display name")
	dataset := flag.String("dataset", "", "dataset the room is working on")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger.Init(logger.Config{
		Env:     logger.Env(cfg.Logging.Env),
		Service: "collab-client",
		Version: cfg.Logging.Version,
		Backend: logger.Backend(cfg.Logging.Backend),
		Debug:   cfg.Logging.Debug,
	})

	// redis.addr задан — работаем напрямую через Redis, иначе через relay
	var tr transport.Transport
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		tr = redischannel.New(rdb)
	} else {
		tr = wschannel.New(cfg.Client.RelayURL)
	}

	// без ключа @assistant отвечает fallback-репликой
	var ans assistant.Answerer
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		client, err := assistant.New(assistant.Config{
			APIKey:  key,
			Model:   cfg.Assistant.Model,
			BaseURL: cfg.Assistant.BaseURL,
		})
		if err != nil {
			log.Fatalf("assistant: %v", err)
		}
		ans = client
	}

	s := session.New(session.Config{
		Transport: tr,
		Answerer:  ans,
		Self:      session.Identity{Name: *name},
		Dataset:   *dataset,
		OnNotice: func(n session.Notice) {
			fmt.Printf("* %s\n", n.Text)
		},
	})

	ctx := context.Background()
	s.JoinRoom(ctx, *room)
	fmt.Printf("joined %q as %s (type /quit to leave)\n", *room, s.Self().Name)

	// новые сообщения печатаем по мере появления в снапшоте
	done := make(chan struct{})
	go printMessages(s, done)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

loop:
	for {
		select {
		case <-sigCh:
			break loop
		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == "/quit" {
				break loop
			}
			s.SendMessage(ctx, line)
		}
	}

	close(done)
	s.LeaveRoom(ctx)
	fmt.Println("left the room")
}

func printMessages(s *session.Session, done <-chan struct{}) {
	seen := 0
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	selfID := s.Self().ID
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			msgs := s.Messages()
			for ; seen < len(msgs); seen++ {
				m := msgs[seen]
				if m.AuthorID == selfID {
					continue
				}
				fmt.Printf("[%s] %s\n", m.AuthorName, m.Text)
			}
		}
	}
}
