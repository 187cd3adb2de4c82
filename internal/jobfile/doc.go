// Package jobfile loads batch job definitions from HCL files.
//
// A job file holds one or more job blocks:
//
//	job "cats" {
//	  input  = "./cats"
//	  output = "./out/cats"
//	  preset = "signal"
//	  title  = "Cats"
//	  author = env.USER
//	  export = "signal"
//
//	  download {
//	    platform = "line"
//	    url      = "https://store.line.me/stickershop/product/1234/en"
//	  }
//
//	  options {
//	    fake_video = true
//	  }
//	}
//
// Environment variables are available as env.NAME. Relative paths are
// resolved against the directory of the file that declares them.
package jobfile
