// Command jjcore-demo walks the operation-logged commit engine end to
// end: init, two transactions building up history, and a third that
// declares a rewrite of the first commit, printing what each step
// produced and then the final state.
//
// Run with: go run ./cmd/jjcore-demo
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"

	"jjcore/pkg/ids"
	"jjcore/pkg/objects"
	"jjcore/pkg/repo"
	"jjcore/pkg/rewrite"
)

// ANSI color codes
const (
	Reset   = "\033[0m"
	Bold    = "\033[1m"
	Dim     = "\033[2m"
	Red     = "\033[31m"
	Green   = "\033[32m"
	Yellow  = "\033[33m"
	Cyan    = "\033[36m"
	Magenta = "\033[35m"
	White   = "\033[37m"
)

func main() {
	dataDir := "./demo-repo"
	os.RemoveAll(dataDir)

	logger := logrus.NewEntry(logrus.StandardLogger())
	logrus.SetLevel(logrus.WarnLevel)

	printHeader("Operation Log Demo")
	fmt.Println()

	printStep(1, "Initializing repository")
	r, err := repo.Init(dataDir, logger)
	if err != nil {
		log.Fatalf("init repo: %v", err)
	}
	defer os.RemoveAll(dataDir)
	fmt.Printf("   Repository created at: %s%s%s\n", Cyan, dataDir, Reset)
	fmt.Println()

	sig := objects.Signature{Name: "Demo User", Email: "demo@example.com"}

	printStep(2, "First transaction: two files on the default workspace")
	_, _, baseView, err := r.CurrentOperation()
	if err != nil {
		log.Fatalf("read current operation: %v", err)
	}
	tx1, err := r.StartTransaction()
	if err != nil {
		log.Fatalf("start transaction: %v", err)
	}
	tree1, err := putFiles(r, map[string]string{
		"README.md": "hello\n",
		"main.go":   "package main\n",
	})
	if err != nil {
		log.Fatalf("build tree: %v", err)
	}
	commit1, err := tx1.Mutable.NewCommit([]ids.CommitId{baseView.Workspaces["default"]}, tree1, sig, sig, "add README and main.go")
	if err != nil {
		log.Fatalf("new commit: %v", err)
	}
	if err := tx1.Mutable.SetWorkingCopyCommit("default", commit1); err != nil {
		log.Fatalf("set working copy: %v", err)
	}
	if err := tx1.Mutable.CreateBranch("main", commit1); err != nil {
		log.Fatalf("create branch: %v", err)
	}
	op1, err := tx1.Finish("add initial files")
	if err != nil {
		log.Fatalf("finish transaction 1: %v", err)
	}
	fmt.Printf("   Operation %s%s%s: %s\"add initial files\"%s\n", Yellow, shortId(op1.Id), Reset, Dim, Reset)
	fmt.Printf("   Commit %s%s%s on branch %smain%s\n", Green, shortId(commit1.Id), Reset, Cyan, Reset)
	fmt.Println()

	printStep(3, "Second transaction: edit README on top of commit 1")
	tx2, err := r.StartTransaction()
	if err != nil {
		log.Fatalf("start transaction: %v", err)
	}
	tree2, err := putFiles(r, map[string]string{
		"README.md": "hello, world\n",
		"main.go":   "package main\n",
	})
	if err != nil {
		log.Fatalf("build tree: %v", err)
	}
	commit2, err := tx2.Mutable.NewCommit([]ids.CommitId{commit1}, tree2, sig, sig, "expand greeting")
	if err != nil {
		log.Fatalf("new commit: %v", err)
	}
	if err := tx2.Mutable.SetWorkingCopyCommit("default", commit2); err != nil {
		log.Fatalf("set working copy: %v", err)
	}
	if err := tx2.Mutable.CreateBranch("main", commit2); err != nil {
		log.Fatalf("create branch: %v", err)
	}
	op2, err := tx2.Finish("expand greeting")
	if err != nil {
		log.Fatalf("finish transaction 2: %v", err)
	}
	fmt.Printf("   Operation %s%s%s: %s\"expand greeting\"%s\n", Yellow, shortId(op2.Id), Reset, Dim, Reset)
	fmt.Printf("   Commit %s%s%s, branch %smain%s moved forward\n", Green, shortId(commit2.Id), Reset, Cyan, Reset)
	fmt.Println()

	printStep(4, "Third transaction: rewrite commit 1's description, rebase commit 2 onto it")
	tx3, err := r.StartTransaction()
	if err != nil {
		log.Fatalf("start transaction: %v", err)
	}
	amendedTree, err := putFiles(r, map[string]string{
		"README.md": "hello\n",
		"main.go":   "package main\n",
		"LICENSE":   "MIT\n",
	})
	if err != nil {
		log.Fatalf("build tree: %v", err)
	}
	commit1Amended, err := tx3.Mutable.NewCommit([]ids.CommitId{baseView.Workspaces["default"]}, amendedTree, sig, sig, "add README, main.go, and LICENSE")
	if err != nil {
		log.Fatalf("new commit: %v", err)
	}
	if err := tx3.Mutable.RecordRewritten(commit1, commit1Amended); err != nil {
		log.Fatalf("record rewritten: %v", err)
	}
	tx3.Mode = rewrite.KeepNewlyEmpty
	op3, err := tx3.Finish("amend initial commit")
	if err != nil {
		log.Fatalf("finish transaction 3: %v", err)
	}
	fmt.Printf("   Operation %s%s%s: %s\"amend initial commit\"%s\n", Yellow, shortId(op3.Id), Reset, Dim, Reset)
	fmt.Printf("   Finish rebased commit 2 onto the amended commit automatically\n")
	fmt.Println()

	printStep(5, "Final state")
	finalOpId, finalOp, finalView, err := r.CurrentOperation()
	if err != nil {
		log.Fatalf("read current operation: %v", err)
	}
	fmt.Printf("   Current operation: %s%s%s %s%q%s\n", Yellow, shortId(finalOpId.Id), Reset, Dim, finalOp.Description, Reset)
	fmt.Printf("   Heads:\n")
	for _, h := range finalView.Heads {
		c, err := r.Objects().GetCommit(h)
		if err != nil {
			log.Fatalf("read commit: %v", err)
		}
		fmt.Printf("     %s%s%s %s%q%s\n", Green, shortId(h.Id), Reset, Dim, c.Description, Reset)
	}
	fmt.Printf("   Branches:\n")
	for name, t := range finalView.LocalBranches {
		fmt.Printf("     %s%s%s -> ", Cyan, name, Reset)
		for _, add := range t.Adds {
			fmt.Printf("%s%s%s ", Green, shortId(add.Id), Reset)
		}
		fmt.Println()
	}
	fmt.Printf("   Workspaces:\n")
	for name, commitId := range finalView.Workspaces {
		fmt.Printf("     %s%s%s @ %s%s%s\n", White, name, Reset, Green, shortId(commitId.Id), Reset)
	}
	fmt.Println()
	fmt.Printf("%sDemo complete!%s\n", Bold, Reset)
}

func putFiles(r *repo.Repo, files map[string]string) (ids.TreeId, error) {
	var entries []objects.TreeEntry
	for name, content := range files {
		blobId, err := r.Objects().PutBlob([]byte(content))
		if err != nil {
			return ids.TreeId{}, err
		}
		entries = append(entries, objects.TreeEntry{
			Name:  name,
			Value: objects.TreeValue{Kind: objects.KindBlob, Id: blobId.Id},
		})
	}
	return r.Objects().PutTree(objects.Tree{Entries: entries})
}

func printHeader(title string) {
	line := "========================================"
	fmt.Printf("%s%s%s\n", Magenta, line, Reset)
	fmt.Printf("%s%s  %s%s\n", Bold, Magenta, title, Reset)
	fmt.Printf("%s%s%s\n", Magenta, line, Reset)
}

func printStep(num int, title string) {
	fmt.Printf("%s%d. %s%s\n", Bold, num, title, Reset)
}

func shortId(id ids.Id) string {
	s := id.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
