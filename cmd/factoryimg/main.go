// Binary factoryimg converts OpenWrt sysupgrade images into the factory
// image format accepted by the web recovery of TP-Link EAP access points.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"

	"github.com/openwrt-tools/factoryimg/fimg"
)

func main() {
	ctx, canc := signal.NotifyContext(context.Background(), os.Interrupt)
	defer canc()
	if err := (fimg.Context{}).Execute(ctx); err != nil {
		log.Fatal(err)
	}
}
