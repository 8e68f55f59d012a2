package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/RichardoC/ollama-chat/internal/client"
	"github.com/RichardoC/ollama-chat/internal/models"
	"go.uber.org/zap"
)

func main() {
	server := flag.String("server", "http://localhost:8100", "chat server URL")
	username := flag.String("user", "", "username")
	password := flag.String("password", os.Getenv("CHAT_PASSWORD"), "password (defaults to $CHAT_PASSWORD)")
	signup := flag.Bool("signup", false, "create the account before logging in")
	model := flag.String("model", "", "model to generate with (server default when empty)")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	logger := zap.NewNop()
	if *verbose {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	if err := run(*server, *username, *password, *signup, *model, logger); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(server, username, password string, signup bool, model string, logger *zap.Logger) error {
	if username == "" || password == "" {
		return fmt.Errorf("-user and -password are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := client.New(server, logger)
	if err != nil {
		return err
	}

	var user *models.PublicUser
	if signup {
		user, err = c.Signup(ctx, username, password)
	} else {
		user, err = c.Login(ctx, username, password)
	}
	if err != nil {
		return err
	}

	history, err := c.ListChats(ctx, user.ID)
	if err != nil {
		return err
	}
	fmt.Printf("Logged in as %s, %d saved chats.\n", user.Username, len(history))
	fmt.Println("/chats lists saved chats, /open N continues one, /new starts a new chat, /quit exits.")

	conv := client.NewConversation(ctx, c, user.ID, model, logger,
		client.WithDeltaHandler(printDelta),
		client.WithReplyHandler(printReply))

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return saveOnExit(conv)
		case line, ok := <-lines:
			if !ok {
				return saveOnExit(conv)
			}
			cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
			switch cmd {
			case "":
			case "/quit":
				return saveOnExit(conv)
			case "/chats":
				if history, err = c.ListChats(ctx, user.ID); err != nil {
					fmt.Fprintln(os.Stderr, err)
					continue
				}
				printHistory(history)
			case "/open":
				n, err := strconv.Atoi(strings.TrimSpace(arg))
				if err != nil || n < 1 || n > len(history) {
					fmt.Fprintf(os.Stderr, "usage: /open N with N between 1 and %d\n", len(history))
					continue
				}
				saved, err := conv.Open(ctx, history[n-1])
				if err != nil {
					fmt.Fprintln(os.Stderr, err)
					continue
				}
				if saved != nil {
					fmt.Printf("Saved %q.\n", saved.Title)
				}
				printTranscript(conv.Messages())
			case "/new":
				saved, err := conv.New(ctx)
				if err != nil {
					fmt.Fprintln(os.Stderr, err)
					continue
				}
				if saved != nil {
					fmt.Printf("Saved %q.\n", saved.Title)
				}
			default:
				if _, err := conv.Submit(line); err != nil {
					fmt.Fprintln(os.Stderr, err)
					continue
				}
				if n := conv.Pending(); n > 1 {
					fmt.Printf("(%d prompts waiting)\n", n-1)
				}
			}
		}
	}
}

// printDelta and printReply run on the queue's worker, so output for one
// reply is never interleaved with another.
var replyStarted bool

func printDelta(_ client.Entry, delta string) {
	if !replyStarted {
		fmt.Print("> ")
		replyStarted = true
	}
	fmt.Print(delta)
}

func printReply(m models.Message) {
	started := replyStarted
	replyStarted = false
	if m.IsError {
		if started {
			fmt.Println()
		}
		fmt.Printf("! %s\n", m.Content)
		return
	}
	if !started {
		fmt.Printf("> %s", m.Content)
	}
	fmt.Println()
}

func printHistory(history []models.Chat) {
	if len(history) == 0 {
		fmt.Println("No saved chats.")
		return
	}
	for i, chat := range history {
		fmt.Printf("%3d  %s  %s (%d messages)\n", i+1, chat.Timestamp.Local().Format("2006-01-02 15:04"), chat.Title, len(chat.Messages))
	}
}

func printTranscript(messages []models.Message) {
	for _, m := range messages {
		switch {
		case m.IsUser:
			fmt.Printf("you: %s\n", m.Content)
		case m.IsError:
			fmt.Printf("! %s\n", m.Content)
		default:
			fmt.Printf("> %s\n", m.Content)
		}
	}
}

func saveOnExit(conv *client.Conversation) error {
	conv.Wait()
	// The signal context may already be done here.
	saved, err := conv.Save(context.Background())
	if err != nil {
		return err
	}
	if saved != nil {
		fmt.Printf("Saved %q.\n", saved.Title)
	}
	return nil
}
