package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/go-picokey/picokey/pkg/options"
	"github.com/go-picokey/picokey/pkg/picokey"
)

func main() {
	lvl := new(slog.LevelVar)
	lvl.Set(slog.LevelDebug)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	}))

	dev, err := picokey.New(
		// Uncomment to skip the smartcard probe and talk raw USB directly.
		//options.WithForceRescue(),
		options.WithLogger(logger),
	)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = dev.Close()
	}()

	fmt.Printf("Connection: %s\n", dev.ConnectionType())
	fmt.Printf("Platform:   %s\n", dev.Platform())
	fmt.Printf("Product:    %s\n", dev.Product())
	fmt.Printf("Firmware:   %s\n", dev.Version())

	flash := dev.FlashInfo()
	if flash.Total > 0 {
		fmt.Printf("Flash:      %d/%d bytes used, %d files\n",
			flash.Used, flash.Total, flash.Files)
	}

	if info, err := dev.SecureInfo(); err == nil {
		fmt.Printf("Secure boot: enabled=%t locked=%t key=%d\n",
			info.Enabled, info.Locked, info.BootKey)
	}

	if phy, err := dev.Phy(); err == nil {
		fmt.Printf("Phy:        % X\n", phy)
	}
}
