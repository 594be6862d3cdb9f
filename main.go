package main

import "github.com/KaramelBytes/shelter-analytics/cmd"

func main() {
	cmd.Execute()
}
