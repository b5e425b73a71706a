package main

import "github.com/nakatach/yuuki-discord-assistant/cmd"

func main() {
	cmd.Execute()
}
