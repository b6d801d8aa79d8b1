package main

import "github.com/ritheshpulikeshimk-svg/face-recognition-attendence/cmd"

func main() {
	cmd.Execute()
}
