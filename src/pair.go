package main

import (
	"fmt"
	"strings"

	"github.com/bbernhard/repairiq/src/datastructures"
	"github.com/go-resty/resty/v2"
	qrcode "github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
)

func newPairCommand(ctx *commandContext) *cobra.Command {
	var pngPath string

	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Request a phone camera link from the service",
		RunE: func(cmd *cobra.Command, args []string) error {
			var res datastructures.PhoneCameraResult
			var errRes datastructures.ErrorResult

			resp, err := resty.New().
				SetTimeout(ctx.config.ClassifyTimeout).
				R().
				SetContext(cmd.Context()).
				SetResult(&res).
				SetError(&errRes).
				Get(strings.TrimRight(ctx.config.ServiceUrl, "/") + "/phone-camera")
			if err != nil {
				return fmt.Errorf("couldn't reach %s: %w", ctx.config.ServiceUrl, err)
			}
			if resp.IsError() {
				return fmt.Errorf("service returned %d: %s", resp.StatusCode(), errRes.Error)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, res.PhoneUrl)
			for i, step := range res.Instructions {
				fmt.Fprintf(out, "%d. %s\n", i+1, step)
			}

			if pngPath != "" {
				if err := qrcode.WriteFile(res.PhoneUrl, qrcode.Medium, 256, pngPath); err != nil {
					return err
				}
				fmt.Fprintln(out, "QR code written to", pngPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&pngPath, "qr", "", "Also write the QR code as png to this path")

	return cmd
}
