package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var watchInterval time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Continuously watch the supervisor status",
	Long:  `Polls the platewatchd status endpoint and redraws the status view until interrupted.`,
	RunE:  runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().DurationVarP(&watchInterval, "interval", "i", 5*time.Second, "Poll interval")
}

func runWatch(cmd *cobra.Command, args []string) error {
	if watchInterval < time.Second {
		return fmt.Errorf("interval must be at least 1s")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	drawStatus()
	for {
		select {
		case <-sigCh:
			fmt.Println("\nStopped watching")
			return nil
		case <-ticker.C:
			drawStatus()
		}
	}
}

func drawStatus() {
	st, err := fetchStatus()

	// Clear screen and move cursor to top
	fmt.Print("\033[H\033[2J")

	fmt.Printf("platewatch status %s (refresh %s, Ctrl+C to quit)\n\n",
		time.Now().Format("15:04:05"), watchInterval)

	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	renderStatus(st)
}
