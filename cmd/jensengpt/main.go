// Package main 是命令行客户端的入口点
package main

import "jensengpt/internal/cli"

func main() {
	cli.Execute()
}
