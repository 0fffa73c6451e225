package main

import (
	"flag"
	"fmt"
	"os"

	"license-server/internal/pkg/crypto"
)

// 生成 admin.secret_hash 配置值
func main() {
	secret := flag.String("secret", "", "管理员密钥")
	flag.Parse()

	if len(*secret) < 16 {
		fmt.Fprintln(os.Stderr, "密钥长度至少需要 16 个字符")
		os.Exit(1)
	}

	hashed, err := crypto.HashSecret(*secret)
	if err != nil {
		fmt.Fprintf(os.Stderr, "生成哈希失败: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("secret_hash: %q\n", hashed)
}
