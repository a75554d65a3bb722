// Muster - multi-account AWS inventory and audit
package main

func main() {
	Execute()
}
