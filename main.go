/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "chatsync/cmd"

func main() {
	cmd.Execute()
}
