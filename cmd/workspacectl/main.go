package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	apiclient "github.com/ywatanabe1989/scitex-cloud-sub001/pkg/api/client"
	"golang.org/x/term"
)

type cliConfig struct {
	APIBaseURL  string `json:"api_base_url"`
	AccessToken string `json:"access_token"`
}

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "login":
		err = commandLogin(args)
	case "start":
		err = commandStart(args)
	case "stop":
		err = commandStop(args)
	case "remove":
		err = commandRemove(args)
	case "exec":
		err = commandExec(args)
	case "status":
		err = commandStatus(args)
	case "idle":
		err = commandIdle(args)
	case "cleanup":
		err = commandCleanup(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func commandLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	username := fs.String("username", "", "Account username")
	password := fs.String("password", "", "Password (supply to avoid prompt)")
	apiBase := fs.String("api", "", "API base URL (default http://localhost:4100)")
	fs.Parse(args)

	if strings.TrimSpace(*username) == "" {
		return errors.New("--username is required")
	}

	secret := strings.TrimSpace(*password)
	if secret == "" {
		fmt.Print("Password: ")
		bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Print("\n")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		secret = string(bytes)
	}

	cfg, _ := loadConfig()
	if strings.TrimSpace(*apiBase) != "" {
		cfg.APIBaseURL = *apiBase
	} else if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "http://localhost:4100"
	}

	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	resp, err := client.Login(ctx, *username, secret)
	if err != nil {
		return err
	}
	cfg.AccessToken = resp.Token
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Println("login successful")
	return nil
}

func commandStart(args []string) error {
	client, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	info, err := client.StartWorkspace(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("workspace running: %s (%s)\n", info.ContainerName, shortID(info.ContainerID))
	return nil
}

func commandStop(args []string) error {
	fs := flag.NewFlagSet("stop", flag.ExitOnError)
	timeout := fs.Int("timeout", 10, "Graceful stop timeout in seconds")
	fs.Parse(args)

	client, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	stopped, err := client.StopWorkspace(ctx, *timeout)
	if err != nil {
		return err
	}
	if stopped {
		fmt.Println("workspace stopped")
	} else {
		fmt.Println("no workspace container to stop")
	}
	return nil
}

func commandRemove(args []string) error {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	force := fs.Bool("force", true, "Remove even if the container is running")
	fs.Parse(args)

	client, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	removed, err := client.RemoveWorkspace(ctx, *force)
	if err != nil {
		return err
	}
	if removed {
		fmt.Println("workspace container removed (home directory preserved)")
	} else {
		fmt.Println("no workspace container to remove")
	}
	return nil
}

func commandExec(args []string) error {
	fs := flag.NewFlagSet("exec", flag.ExitOnError)
	workdir := fs.String("workdir", "", "Working directory inside the container")
	fs.Parse(args)

	command := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if command == "" {
		return errors.New("usage: workspacectl exec [--workdir dir] <command>")
	}

	client, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result, err := client.ExecWorkspace(ctx, command, *workdir)
	if err != nil {
		return err
	}
	fmt.Print(result.Output)
	if result.ExitCode != 0 {
		os.Exit(result.ExitCode)
	}
	return nil
}

func commandStatus(args []string) error {
	client, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	status, err := client.GetWorkspaceStatus(ctx)
	if err != nil {
		return err
	}
	if status == nil {
		fmt.Println("no workspace container")
		return nil
	}
	fmt.Printf("%s\t%s\t%s\t%s\n", status.ContainerName, shortID(status.ContainerID), status.State, status.Image)
	return nil
}

func commandIdle(args []string) error {
	fs := flag.NewFlagSet("idle", flag.ExitOnError)
	minutes := fs.Int("minutes", 30, "Idle threshold in minutes")
	fs.Parse(args)

	client, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	idle, err := client.ListIdleWorkspaces(ctx, *minutes)
	if err != nil {
		return err
	}
	for _, ws := range idle {
		last := "never"
		if ws.LastActivityAt != nil {
			last = ws.LastActivityAt.Format(time.RFC3339)
		}
		fmt.Printf("%s\t%s\t%s\n", ws.UserID, ws.ContainerName, last)
	}
	return nil
}

func commandCleanup(args []string) error {
	fs := flag.NewFlagSet("cleanup", flag.ExitOnError)
	minutes := fs.Int("minutes", 30, "Idle threshold in minutes")
	fs.Parse(args)

	client, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	stopped, err := client.CleanupIdleWorkspaces(ctx, *minutes)
	if err != nil {
		return err
	}
	fmt.Printf("stopped %d idle workspace(s)\n", stopped)
	return nil
}

func authedClient() (*apiclient.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, errors.New("please login first using 'workspacectl login'")
	}
	return apiclient.New(cfg.APIBaseURL, apiclient.WithToken(token))
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cliConfig{APIBaseURL: "http://localhost:4100"}, nil
		}
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, err
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "http://localhost:4100"
	}
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "workspacectl", "config.json"), nil
}

func printUsage() {
	fmt.Printf("workspacectl %s\n\n", buildVersion)
	fmt.Print(`Usage:
	workspacectl login --username alice [--password secret] [--api http://localhost:4100]
	workspacectl start
	workspacectl stop [--timeout seconds]
	workspacectl remove [--force=false]
	workspacectl exec [--workdir dir] <command>
	workspacectl status
	workspacectl idle [--minutes N]
	workspacectl cleanup [--minutes N]
	workspacectl version
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
