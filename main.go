// Command resultcrawler retrieves student results for ranges of roll numbers.
package main

import "github.com/JakeFAU/bulk-result-crawler/cmd"

func main() {
	cmd.Execute()
}
