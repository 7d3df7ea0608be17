package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bbernhard/repairiq/src/commons"
	"github.com/bbernhard/repairiq/src/scan"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const phoneFrameWait = 2 * time.Minute

// relayUrl derives the websocket endpoint of the relay from the service url.
func relayUrl(serviceUrl string) (string, error) {
	u, err := url.Parse(serviceUrl)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported service url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = ""
	return u.String(), nil
}

func newOrchestrator(config commons.Config, out io.Writer, file string) *scan.Orchestrator {
	classifier := scan.NewClassificationClient(config.ServiceUrl, config.ClassifyTimeout)
	explainer := scan.NewGenerativeExplainer(config.LlmBaseUrl, config.LlmApiKey, config.LlmModel, config.LlmTimeout)
	orch := scan.NewOrchestrator(classifier, scan.NewResolver(explainer, config.LlmTimeout),
		scan.NewTablePublisher(out), config.LowConfidenceThreshold)

	orch.Register(scan.LocalCamera, scan.NewCameraSource(config.CameraCommand))
	orch.Register(scan.StillImage, scan.NewFileSource(file))
	return orch
}

func newScanCommand(ctx *commandContext) *cobra.Command {
	var source string
	var file string
	var interactive bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Capture a frame, identify the component and explain it",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := scan.ParseSourceKind(source)
			if err != nil {
				return err
			}
			if file != "" && !cmd.Flags().Changed("source") {
				kind = scan.StillImage
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			config := ctx.config
			orch := newOrchestrator(config, cmd.OutOrStdout(), file)

			if kind == scan.RelayedPhone {
				phone, err := connectPhone(runCtx, config, orch)
				if err != nil {
					return err
				}
				defer phone.Close()

				if !interactive {
					fmt.Fprintln(cmd.OutOrStdout(), "Waiting for the phone to send a frame...")
					if err := waitForFrame(runCtx, phone, phoneFrameWait); err != nil {
						return err
					}
				}
			}
			if err := orch.Select(kind); err != nil {
				return err
			}

			if !interactive {
				outcome, _ := orch.Scan(runCtx)
				return outcome.Err
			}
			return scanLoop(runCtx, orch, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&source, "source", string(scan.LocalCamera), "Frame source: camera, phone or file")
	cmd.Flags().StringVar(&file, "file", "", "Image file to scan (implies --source file)")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Scan again every time enter is pressed")

	return cmd
}

// connectPhone subscribes to the relay. When the phone goes away the
// orchestrator falls back to the local camera.
func connectPhone(ctx context.Context, config commons.Config, orch *scan.Orchestrator) (*scan.PhoneSource, error) {
	wsUrl, err := relayUrl(config.ServiceUrl)
	if err != nil {
		return nil, err
	}

	phone := scan.NewPhoneSource(wsUrl)
	phone.OnDisconnect(func() {
		if orch.Selected() == scan.RelayedPhone {
			log.Warn("[Scan] Phone disconnected, falling back to the local camera")
			orch.Select(scan.LocalCamera)
		}
	})
	if err := phone.Connect(ctx); err != nil {
		return nil, err
	}
	orch.Register(scan.RelayedPhone, phone)
	return phone, nil
}

func waitForFrame(ctx context.Context, phone *scan.PhoneSource, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for !phone.HasFrame() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("no frame from the phone within %s: %w", timeout, scan.ErrSourceNotReady)
		case <-ticker.C:
		}
	}
	return nil
}

func scanLoop(ctx context.Context, orch *scan.Orchestrator, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
	}()

	for {
		fmt.Fprintf(out, "[%s] press enter to scan, q to quit: ", orch.Selected())
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok || line == "q" {
				return nil
			}
			orch.Scan(ctx)
		}
	}
}
