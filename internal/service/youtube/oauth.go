package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/youtube/v3"
)

// OAuth wraps the installed-app flow used when no API key is configured.
// The token is kept in a JSON file and refreshed transparently by the oauth2 client.
type OAuth struct {
	config    *oauth2.Config
	token     *oauth2.Token
	tokenFile string
	logger    *zap.Logger
}

func NewOAuth(credentialsFile, tokenFile string, logger *zap.Logger) (*OAuth, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	credBytes, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.ConfigFromJSON(credBytes, youtube.YoutubeReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	o := &OAuth{
		config:    config,
		tokenFile: tokenFile,
		logger:    logger,
	}

	token, err := loadToken(tokenFile)
	if err != nil {
		logger.Warn("No existing token found, need to authorize",
			zap.String("file", tokenFile))
		return o, nil
	}
	o.token = token
	return o, nil
}

func (o *OAuth) IsAuthorized() bool {
	return o != nil && o.token != nil
}

// HTTPClient returns an authenticated client. Authorize must have succeeded first.
func (o *OAuth) HTTPClient(ctx context.Context) (*http.Client, error) {
	if !o.IsAuthorized() {
		return nil, fmt.Errorf("youtube oauth: no token in %s, run `radar auth` first", o.tokenFile)
	}
	return o.config.Client(ctx, o.token), nil
}

// Authorize runs the copy-paste consent flow: print the URL to out, read the code from in.
func (o *OAuth) Authorize(ctx context.Context, in io.Reader, out io.Writer) error {
	if o == nil {
		return fmt.Errorf("oauth not initialized")
	}

	authURL := o.config.AuthCodeURL("state-token", oauth2.AccessTypeOffline)

	o.logger.Info("Authorization required")
	fmt.Fprintln(out, "\n=== YouTube API Authorization ===")
	fmt.Fprintln(out, "Go to the following link in your browser:")
	fmt.Fprintln(out, authURL)
	fmt.Fprintln(out, "\nAfter authorization, enter the code here:")

	var code string
	if _, err := fmt.Fscan(in, &code); err != nil {
		return fmt.Errorf("unable to read authorization code: %w", err)
	}

	token, err := o.config.Exchange(ctx, strings.TrimSpace(code))
	if err != nil {
		return fmt.Errorf("unable to retrieve token: %w", err)
	}

	if err := saveToken(o.tokenFile, token); err != nil {
		return fmt.Errorf("unable to save token: %w", err)
	}
	o.token = token

	o.logger.Info("YouTube OAuth authorization complete",
		zap.String("token_file", o.tokenFile))
	fmt.Fprintln(out, "\nAuthorization successful. Token saved.")

	return nil
}

func loadToken(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	token := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(token)
	return token, err
}

func saveToken(file string, token *oauth2.Token) error {
	f, err := os.OpenFile(file, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	return json.NewEncoder(f).Encode(token)
}
