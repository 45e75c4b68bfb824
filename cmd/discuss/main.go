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
	"strings"
	"syscall"
	"time"

	"github.com/patricou/PATTOOL2-sub002/internal/api"
	"github.com/patricou/PATTOOL2-sub002/internal/auth"
	"github.com/patricou/PATTOOL2-sub002/internal/blobcache"
	"github.com/patricou/PATTOOL2-sub002/internal/config"
	"github.com/patricou/PATTOOL2-sub002/internal/connection"
	"github.com/patricou/PATTOOL2-sub002/internal/session"
	"github.com/patricou/PATTOOL2-sub002/internal/storage"
	"github.com/patricou/PATTOOL2-sub002/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	args, err := parseFlags(cfg, os.Args[1:])
	if err != nil {
		return err
	}

	if cfg.Debug {
		logger.SetLevel(logger.LevelDebug)
	} else if cfg.LogLevel != "" {
		level, err := logger.ParseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger.SetLevel(level)
	}

	if len(args) > 0 {
		switch args[0] {
		case "login":
			if len(args) < 2 {
				fmt.Println("Usage: discuss login <token>")
				return nil
			}
			if err := storage.SaveAccessToken(cfg.AccessKey, args[1]); err != nil {
				return fmt.Errorf("failed to save access token: %w", err)
			}
			fmt.Println("Token saved.")
			return nil
		case "help", "--help", "-h":
			printUsage()
			return nil
		case "version", "--version", "-v":
			fmt.Println("discuss v1.0.0")
			return nil
		}
	}

	if len(args) == 0 {
		printUsage()
		return fmt.Errorf("discussion id required")
	}
	discussionID := args[0]

	token, err := storage.LoadAccessToken(cfg.AccessKey)
	if err != nil {
		return fmt.Errorf("not logged in (run: discuss login <token>): %w", err)
	}

	tokens := auth.NewCached(auth.Static(token), cfg.TokenTTL)
	client := api.NewClient(cfg.ServerURL, tokens)
	conn := connection.NewManager(connection.Config{
		ServerURL:      cfg.ServerURL,
		Path:           cfg.RealtimePath,
		Tokens:         tokens,
		ConnectTimeout: cfg.ConnectTimeout,
	})

	author := os.Getenv("PATTOOL_AUTHOR")
	if author == "" {
		author = "me"
	}

	sess := session.New(session.Config{API: client, Conn: conn, Author: author})
	defer sess.Close()
	sess.SetListener(&printListener{sess: sess, home: cfg.Home})

	discussion, err := client.GetDiscussion(context.Background(), discussionID)
	if err == nil && discussion.Title != "" {
		fmt.Printf("== %s ==\n", discussion.Title)
	}

	if err := sess.Open(discussionID); err != nil {
		return fmt.Errorf("failed to open discussion: %w", err)
	}
	printMessages(sess)

	if err := storage.UpdateLocalDiscussionInfo(cfg.Home, discussionID, func(info *storage.LocalDiscussionInfo) {
		info.LastOpenedAtMs = time.Now().UnixMilli()
	}); err != nil {
		logger.Warnf("failed to record last-opened: %v", err)
	}

	return interact(sess, cfg.Home)
}

// interact reads commands from stdin until EOF or an interrupt.
func interact(sess *session.Session, home string) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-sigCh:
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := handleLine(sess, home, line); err != nil {
				if err == errQuit {
					return nil
				}
				fmt.Printf("! %v\n", err)
			}
		}
	}
}

var errQuit = fmt.Errorf("quit")

func handleLine(sess *session.Session, home string, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return sess.Send(line, nil, nil)
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/edit":
		if len(fields) < 3 {
			return fmt.Errorf("usage: /edit <messageId> <text>")
		}
		return sess.Edit(fields[1], strings.Join(fields[2:], " "))
	case "/delete":
		if len(fields) != 2 {
			return fmt.Errorf("usage: /delete <messageId>")
		}
		return sess.Delete(fields[1])
	case "/switch":
		if len(fields) != 2 {
			return fmt.Errorf("usage: /switch <discussionId>")
		}
		if err := sess.SwitchTo(fields[1]); err != nil {
			return err
		}
		printMessages(sess)
		return storage.UpdateLocalDiscussionInfo(home, fields[1], func(info *storage.LocalDiscussionInfo) {
			info.LastOpenedAtMs = time.Now().UnixMilli()
		})
	case "/quit", "/q":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
}

func printMessages(sess *session.Session) {
	for _, msg := range sess.Messages() {
		printMessage(msg.ID, msg.Author, msg.PostedAt, msg.Text, msg.ImageFile, msg.VideoFile)
	}
}

func printMessage(id, author string, postedAt int64, text, imageFile, videoFile string) {
	ts := time.UnixMilli(postedAt).Format("15:04:05")
	line := fmt.Sprintf("[%s] %s %s: %s", ts, id, author, text)
	if imageFile != "" {
		line += fmt.Sprintf(" (image: %s)", imageFile)
	}
	if videoFile != "" {
		line += fmt.Sprintf(" (video: %s)", videoFile)
	}
	fmt.Println(line)
}

// printListener renders session events to stdout and records the last-read
// message id.
type printListener struct {
	sess *session.Session
	home string
}

func (l *printListener) OnMessagesChanged() {
	msgs := l.sess.Messages()
	if len(msgs) == 0 {
		return
	}
	last := msgs[len(msgs)-1]
	printMessage(last.ID, last.Author, last.PostedAt, last.Text, last.ImageFile, last.VideoFile)

	discussionID := l.sess.DiscussionID()
	if discussionID == "" || last.ID == "" {
		return
	}
	if err := storage.UpdateLocalDiscussionInfo(l.home, discussionID, func(info *storage.LocalDiscussionInfo) {
		info.LastReadMessageID = last.ID
	}); err != nil {
		logger.Debugf("failed to record last-read: %v", err)
	}
}

func (l *printListener) OnStatus(status connection.Status) {
	fmt.Printf("-- %s\n", status)
}

func (l *printListener) OnDiscussionStatus(status string) {
	fmt.Printf("-- discussion status: %s\n", status)
}

func (l *printListener) OnBlobReady(key blobcache.Key) {
	logger.Debugf("attachment ready: %s", key)
}

func (l *printListener) OnError(message string) {
	fmt.Printf("! %s\n", message)
}

func parseFlags(cfg *config.Config, args []string) ([]string, error) {
	fs := flag.NewFlagSet("discuss", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	serverURL := fs.String("server", "", "Discussion server URL")
	logLevel := fs.String("log-level", "", "Log verbosity (trace|debug|info|warn|error)")
	debug := fs.Bool("debug", false, "Enable debug logging")
	showHelp := fs.Bool("help", false, "Show help")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *showHelp {
		printUsage()
		return nil, nil
	}

	if *serverURL != "" {
		cfg.ServerURL = *serverURL
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *debug {
		cfg.Debug = true
	}

	return fs.Args(), nil
}

func printUsage() {
	fmt.Println(`discuss - live discussion client

Usage:
  discuss <discussionId>    Open a discussion and follow it live
  discuss login <token>     Store the access token
  discuss help              Show this help message
  discuss version           Show version information

While a discussion is open:
  <text>                    Send a message
  /edit <id> <text>         Edit a message
  /delete <id>              Delete a message
  /switch <discussionId>    Switch to another discussion
  /quit                     Exit

Environment Variables:
  PATTOOL_SERVER_URL       Server URL (default: http://localhost:8080)
  PATTOOL_HOME_DIR         Config directory (default: ~/.pattool)
  PATTOOL_REALTIME_PATH    Socket endpoint path (default: /v1/updates)
  PATTOOL_AUTHOR           Author name stamped on sent messages
  PATTOOL_CONNECT_TIMEOUT  Realtime connect timeout (default: 15s)
  PATTOOL_LOG_LEVEL        Log verbosity (trace|debug|info|warn|error)
  DEBUG                    Enable debug logging (true/1)

Examples:
  # Store the access token
  discuss login eyJhbGciOi...

  # Open a discussion against a local server
  PATTOOL_SERVER_URL=http://localhost:3005 discuss 42`)
}
