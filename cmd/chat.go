package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sagekit/sage/internal/app"
	"github.com/sagekit/sage/internal/assistant"
)

var (
	chatAssistant string
	chatSession   string
	chatStream    bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with an assistant in the terminal",
	Long: `Chat starts an interactive conversation with a configured assistant.
Replies are rendered as markdown; pass --stream to print raw model output
as it arrives instead. Exit with /exit, /quit or Ctrl+D.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatAssistant, "assistant", "general", "assistant type to talk to")
	chatCmd.Flags().StringVar(&chatSession, "session", "", "session id to resume (default: new session)")
	chatCmd.Flags().BoolVar(&chatStream, "stream", false, "print raw chunks as they arrive")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := newLogger(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	asst, err := a.Assistants.Assistant(chatAssistant, chatSession)
	if err != nil {
		return err
	}

	fmt.Printf("%s (session %s)\n", asst.Name(), asst.SessionID())
	fmt.Println("Type your message, /exit to quit.")

	renderer := newMarkdownRenderer(0)
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/exit" || line == "/quit":
			return nil
		}

		if err := chatTurn(ctx, asst, line, renderer); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

func chatTurn(ctx context.Context, asst *assistant.Assistant, line string, renderer *markdownRenderer) error {
	if chatStream {
		_, err := asst.ChatStream(ctx, []string{line}, func(_ context.Context, chunk string) error {
			fmt.Print(chunk)
			return nil
		})
		fmt.Println()
		return err
	}

	reply, err := asst.Chat(ctx, []string{line})
	if err != nil {
		return err
	}
	fmt.Println(renderer.Render(reply))
	return nil
}
