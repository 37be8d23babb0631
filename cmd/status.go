package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/intelligrit/quakesafe/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what the backend database holds",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.New(dataDir)
		if err != nil {
			return err
		}
		defer s.Close()

		imgCount := s.ImageCount()

		fmt.Printf("Database Status\n")
		fmt.Printf("===============\n")
		fmt.Printf("Images:             %d\n", imgCount)
		fmt.Printf("Images with a pin:  %d / %d\n", s.LocatedImageCount(), imgCount)
		fmt.Printf("Assessments:        %d\n", s.AssessmentCount())
		fmt.Printf("Chat messages:      %d\n", s.ChatMessageCount())

		byUser := s.AssessmentCountByUser()
		if len(byUser) > 0 {
			fmt.Printf("\nPer-User Assessments\n")
			fmt.Printf("--------------------\n")

			var users []string
			for u := range byUser {
				users = append(users, u)
			}
			sort.Strings(users)

			for _, u := range users {
				name := u
				if name == "" {
					name = "(anonymous)"
				}
				fmt.Printf("  %-36s  %3d\n", name, byUser[u])
			}
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
