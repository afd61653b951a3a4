// Command tubegeo extracts tubular structures and minimal paths from 3D
// volumes.
package main

func main() {
	Execute()
}
