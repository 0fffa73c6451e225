package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	license "license-server/sdk/go"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "授权服务地址")
	code := flag.String("code", "", "授权码，为空时使用本地缓存复查")
	cacheDir := flag.String("cache", ".license", "缓存目录")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := license.NewClient(*server, license.WithCacheDir(*cacheDir))
	fmt.Printf("设备指纹: %s\n", client.Fingerprint())

	var (
		st  *license.State
		err error
	)
	if *code != "" {
		st, err = client.Activate(ctx, *code)
	} else {
		st, err = client.Check(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "授权失败: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("授权有效: %s，剩余 %d 天，到期 %s\n", st.LicenseID, st.DaysRemaining, st.ExpiresAt.Format(time.RFC3339))
	if len(st.AllowedCountries) > 0 {
		fmt.Printf("允许国家: %v\n", st.AllowedCountries)
	}
}
