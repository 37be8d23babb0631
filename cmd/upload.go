package cmd

import (
	"context"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/intelligrit/quakesafe/internal/api"
	"github.com/intelligrit/quakesafe/internal/classify"
)

var (
	uploadLat   float64
	uploadLon   float64
	uploadLabel string
	uploadUser  string
)

var uploadCmd = &cobra.Command{
	Use:   "upload <image>",
	Short: "Upload a photo of a room and print its safety assessment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("user") {
			uploadUser = cfg.Map.UserID
		}

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		up := api.Upload{
			Filename:    args[0],
			ContentType: mime.TypeByExtension(filepath.Ext(args[0])),
			Data:        f,
			Label:       uploadLabel,
		}
		if cmd.Flags().Changed("lat") {
			up.Latitude = &uploadLat
		}
		if cmd.Flags().Changed("lon") {
			up.Longitude = &uploadLon
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		client := api.NewClient(cfg.API.BaseURL, cfg.API.RateLimit, cfg.API.Timeout.Duration)
		client.UserID = uploadUser

		fmt.Printf("Uploading %s...\n", filepath.Base(args[0]))
		res, err := client.UploadImage(ctx, up)
		if err != nil {
			return err
		}

		a := res.Assessment
		fmt.Printf("Image:         %s\n", res.Image.ID)
		if band, ok := classify.Score(a.Score); ok {
			fmt.Printf("Safety score:  %.0f/100 (%s)\n", a.Score, band)
		}
		if adv, ok := classify.ParseAdvisory(a.SurvivabilityLabel); ok {
			fmt.Printf("Survivability: magnitude %s, %s\n", a.SurvivabilityLabel, adv)
		}
		if res.Image.Latitude == nil || res.Image.Longitude == nil {
			fmt.Println("No location given; this image will not appear on the map.")
		}
		fmt.Printf("\n%s\n", a.Description)
		return nil
	},
}

func init() {
	uploadCmd.Flags().Float64Var(&uploadLat, "lat", 0, "Latitude of the photographed location")
	uploadCmd.Flags().Float64Var(&uploadLon, "lon", 0, "Longitude of the photographed location")
	uploadCmd.Flags().StringVar(&uploadLabel, "label", "", "Room or place name")
	uploadCmd.Flags().StringVar(&uploadUser, "user", "", "User ID to upload as")
	rootCmd.AddCommand(uploadCmd)
}
