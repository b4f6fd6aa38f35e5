// Command politecrawl runs a polite, resumable crawl described by a config file.
package main

import "github.com/JakeFAU/politecrawl/cmd"

func main() {
	cmd.Execute()
}
