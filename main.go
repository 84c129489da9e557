package main

import "github.com/yiliangbetter/openclaw/cmd"

func main() {
	cmd.Execute()
}
