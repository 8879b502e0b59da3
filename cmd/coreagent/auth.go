package main

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/pico-agents/coreagent/pkg/auth"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Log in to subscription-based LLM providers",
}

var authLoginCmd = &cobra.Command{
	Use:   "login <anthropic|openai>",
	Short: "Authenticate with a provider's OAuth subscription flow",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuthLogin,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which providers have a saved credential",
	RunE:  runAuthStatus,
}

func init() {
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authStatusCmd)
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	provider := args[0]

	var cfg auth.OAuthProviderConfig
	var redirectURI string
	switch provider {
	case "anthropic":
		cfg = auth.AnthropicOAuthConfig()
		redirectURI = "https://console.anthropic.com/oauth/code/callback"
	case "openai":
		cfg = auth.OpenAIOAuthConfig()
		redirectURI = fmt.Sprintf("http://localhost:%d/auth/callback", cfg.Port)
	default:
		return fmt.Errorf("unknown provider %q, expected anthropic or openai", provider)
	}

	pkce, err := auth.GeneratePKCE()
	if err != nil {
		return fmt.Errorf("generating PKCE codes: %w", err)
	}
	state := uuid.NewString()
	authURL := auth.BuildAuthorizeURL(cfg, pkce, state, redirectURI)

	fmt.Printf("%s OAuth Login\n", strings.Title(provider))
	fmt.Println(strings.Repeat("=", len(provider)+12))
	fmt.Println()
	fmt.Println("Opening your browser for authentication...")
	if err := openBrowser(authURL); err != nil {
		fmt.Println("Could not open a browser automatically. Visit this URL manually:")
	}
	fmt.Printf("\n   %s\n\n", authURL)
	fmt.Println("After authorizing, paste the code shown on the callback page below.")
	fmt.Print("Authorization code: ")

	reader := bufio.NewReader(os.Stdin)
	raw, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading authorization code: %w", err)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("no authorization code entered")
	}

	// Anthropic's callback page renders "code#state"; openai's is a bare code.
	code := raw
	if idx := strings.Index(raw, "#"); idx >= 0 {
		code = raw[:idx]
	}

	cred, err := auth.ExchangeCodeForTokens(cfg, code, pkce.CodeVerifier, redirectURI)
	if err != nil {
		return fmt.Errorf("exchanging authorization code: %w", err)
	}
	if err := auth.SetCredential(provider, cred); err != nil {
		return fmt.Errorf("saving credential: %w", err)
	}

	fmt.Printf("\nLogged in to %s. Credential saved.\n", provider)
	return nil
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	for _, provider := range []string{"anthropic", "openai"} {
		cred, err := auth.GetCredential(provider)
		if err != nil {
			return fmt.Errorf("reading %s credential: %w", provider, err)
		}
		if cred == nil {
			fmt.Printf("%s: not logged in\n", provider)
			continue
		}
		expiry := "no expiry"
		if !cred.ExpiresAt.IsZero() {
			expiry = fmt.Sprintf("expires %s", cred.ExpiresAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("%s: logged in via %s (%s)\n", provider, cred.AuthMethod, expiry)
	}
	return nil
}

func openBrowser(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}
