package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	apperrors "skill-barter/messaging/pkg/errors"

	"github.com/spf13/cobra"
)

func init() {
	loginCmd.Flags().Bool("signup", false, "create the account first")
	loginCmd.Flags().String("email", "", "email for --signup")
	rootCmd.AddCommand(loginCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Obtain a token from the relay server",
	Long: `login asks the relay server for a bearer token and prints it in a
form suitable for eval:

  eval "$(chat login alice)"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		signup, _ := cmd.Flags().GetBool("signup")
		email, _ := cmd.Flags().GetString("email")

		path := "/auth/login"
		if signup {
			path = "/auth/signup"
		}
		body, err := json.Marshal(map[string]string{"username": args[0], "email": email})
		if err != nil {
			return err
		}

		ctx, cancel := current.withTimeout(cmd.Context())
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, current.cfg.API.BaseURL+path, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("reach relay: %w", err)
		}
		defer resp.Body.Close()

		var raw bytes.Buffer
		if _, err := raw.ReadFrom(resp.Body); err != nil {
			return err
		}
		if resp.StatusCode >= http.StatusBadRequest {
			return apperrors.Upstream(resp.StatusCode, http.MethodPost, path, raw.Bytes())
		}

		var tok struct {
			AccessToken string `json:"access_token"`
			UserID      int64  `json:"user_id"`
		}
		if err := json.Unmarshal(raw.Bytes(), &tok); err != nil {
			return fmt.Errorf("decode token response: %w", err)
		}

		current.log.Debug("logged in", "user_id", tok.UserID)
		fmt.Fprintf(cmd.OutOrStdout(), "export CHAT_TOKEN=%s\n", tok.AccessToken)
		return nil
	},
}
