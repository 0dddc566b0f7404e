package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/alanyoungcy/optionsd/internal/config"
	"github.com/alanyoungcy/optionsd/internal/crypto"
	"github.com/alanyoungcy/optionsd/internal/market"
	"github.com/alanyoungcy/optionsd/internal/service"
)

func configCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			redacted := config.RedactedConfig(cfg)
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(redacted)
		},
	}
}

func encryptKeyCommand() *cobra.Command {
	var out, password string
	c := &cobra.Command{
		Use:   "encrypt-key",
		Short: "Seal a wallet private key (read from stdin) into a keyfile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				password = os.Getenv("OPTIONSD_WALLET_KEY_PASSWORD")
			}
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read private key: %w", err)
			}
			data, err := crypto.EncryptKey(strings.TrimSpace(line), password)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o600); err != nil {
				return fmt.Errorf("write keyfile: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "keyfile written to %s\n", out)
			return nil
		},
	}
	c.Flags().StringVarP(&out, "out", "o", "wallet.key.json", "keyfile path")
	c.Flags().StringVar(&password, "password", "", "keyfile password (default $OPTIONSD_WALLET_KEY_PASSWORD)")
	return c
}

type previewFlags struct {
	asset      string
	strike     string
	biddingEnd string
	maturity   string
	long       int
	funding    string
}

func previewCommand() *cobra.Command {
	var f previewFlags
	c := &cobra.Command{
		Use:   "preview",
		Short: "Print the creation preview for a draft given on the command line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fees, err := cfg.FeeSchedule()
			if err != nil {
				return err
			}
			assets := service.NewAssetService(market.NewDirectory(cfg.DomainAssets()), newLogger("error"))

			d, err := f.draft(assets)
			if err != nil {
				return err
			}
			p := market.BuildPreview(d, assets.Directory(), fees, time.Now())

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(p)
		},
	}
	c.Flags().StringVar(&f.asset, "asset", "", "underlying asset symbol")
	c.Flags().StringVar(&f.strike, "strike", "", "strike price")
	c.Flags().StringVar(&f.biddingEnd, "bidding-end", "", "end of bidding (RFC 3339)")
	c.Flags().StringVar(&f.maturity, "maturity", "", "maturity (RFC 3339)")
	c.Flags().IntVar(&f.long, "skew", 50, "initial long percentage (0-100)")
	c.Flags().StringVar(&f.funding, "funding", "", "funding amount")
	return c
}

func (f previewFlags) draft(assets *service.AssetService) (*market.Draft, error) {
	d := market.NewDraft()
	if f.asset != "" {
		a, ok := assets.IsSelectable(f.asset)
		if !ok {
			return nil, fmt.Errorf("asset %q is not selectable", f.asset)
		}
		d.SetUnderlyingAsset(&a)
	}
	d.SetStrikePrice(f.strike)
	d.SetFundingAmount(f.funding)
	if f.long < 0 || f.long > 100 {
		return nil, fmt.Errorf("skew %d out of range 0-100", f.long)
	}
	d.SetSkew(f.long)

	if f.biddingEnd != "" {
		t, err := time.Parse(time.RFC3339, f.biddingEnd)
		if err != nil {
			return nil, fmt.Errorf("bidding-end: %w", err)
		}
		d.SetBiddingEnd(&t)
	}
	if f.maturity != "" {
		t, err := time.Parse(time.RFC3339, f.maturity)
		if err != nil {
			return nil, fmt.Errorf("maturity: %w", err)
		}
		if err := d.SetMaturity(&t); err != nil {
			return nil, err
		}
	}
	return d, nil
}
