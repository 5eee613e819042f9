package main

import "github.com/ValentinKolb/ttlKV/cmd"

func main() {
	cmd.Execute()
}
