package main

import "github.com/llmgateway/gateway/cmd"

func main() {
	cmd.Execute()
}
