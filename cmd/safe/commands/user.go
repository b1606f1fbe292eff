package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/perdedora/safe/pkg/store"
	"github.com/perdedora/safe/pkg/store/models"
)

var userRank int

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

var userCreateCmd = &cobra.Command{
	Use:   "create <username> <password>",
	Short: "Create a user account",
	Args:  cobra.ExactArgs(2),
	RunE:  runUserCreate,
}

var userTokenCmd = &cobra.Command{
	Use:   "token <username>",
	Short: "Show a user's API token",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserToken,
}

func init() {
	userCreateCmd.Flags().IntVar(&userRank, "rank", models.RankUser, "permission rank for the new account")
	userCmd.AddCommand(userCreateCmd)
	userCmd.AddCommand(userTokenCmd)
}

func runUserCreate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}

	username, password := args[0], args[1]

	hash, err := models.HashPassword(password)
	if err != nil {
		return err
	}
	token, err := models.GenerateToken()
	if err != nil {
		return err
	}

	user := &models.User{
		Username:     username,
		PasswordHash: hash,
		Token:        token,
		Enabled:      true,
		Permission:   userRank,
	}
	if err := st.CreateUser(context.Background(), user); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	fmt.Printf("user %q created (rank %d)\ntoken: %s\n", username, userRank, token)
	return nil
}

func runUserToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}

	user, err := st.GetUser(context.Background(), args[0])
	if err != nil {
		return err
	}
	fmt.Println(user.Token)
	return nil
}
