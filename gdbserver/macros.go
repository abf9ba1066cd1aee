package gdbserver

// UserMacros is the fixed text blob handed to the launcher so it can write
// a command file the debugger ingests at startup. It defines `checkpoint`,
// `delete checkpoint`, `restart`, and `when`, plus the hook-run/hookpost-*
// family that works around a debugger quirk where an unprimed `run` can
// hang, and disables target-async (both spellings) and makes SIGURG a
// stopping signal. This text is part of the observable contract with the
// back-channel addresses in magic.go and must be emitted byte-for-byte.
const UserMacros = "" +
	"define checkpoint\n" +
	"  init-if-undefined $_next_checkpoint_index = 1\n" +
	"  p (*(int*)29298 = 0x01000000 | $_next_checkpoint_index), " +
	"$_next_checkpoint_index++\n" +
	"end\n" +
	"define delete checkpoint\n" +
	"  p (*(int*)29298 = 0x02000000 | $arg0), $arg0\n" +
	"end\n" +
	"define restart\n" +
	"  run c$arg0\n" +
	"end\n" +
	"define when\n" +
	"  p *(long long int*)(29298 + 4)\n" +
	"end\n" +
	"define hook-run\n" +
	"  if $_thread != 0 && !$suppress_run_hook\n" +
	"    stepi\n" +
	"  end\n" +
	"end\n" +
	"define hookpost-continue\n" +
	"  set $suppress_run_hook = 1\n" +
	"end\n" +
	"define hookpost-step\n" +
	"  set $suppress_run_hook = 1\n" +
	"end\n" +
	"define hookpost-stepi\n" +
	"  set $suppress_run_hook = 1\n" +
	"end\n" +
	"define hookpost-next\n" +
	"  set $suppress_run_hook = 1\n" +
	"end\n" +
	"define hookpost-nexti\n" +
	"  set $suppress_run_hook = 1\n" +
	"end\n" +
	"define hookpost-finish\n" +
	"  set $suppress_run_hook = 1\n" +
	"end\n" +
	"define hookpost-reverse-continue\n" +
	"  set $suppress_run_hook = 1\n" +
	"end\n" +
	"define hookpost-reverse-step\n" +
	"  set $suppress_run_hook = 1\n" +
	"end\n" +
	"define hookpost-reverse-stepi\n" +
	"  set $suppress_run_hook = 1\n" +
	"end\n" +
	"define hookpost-reverse-finish\n" +
	"  set $suppress_run_hook = 1\n" +
	"end\n" +
	"define hookpost-run\n" +
	"  set $suppress_run_hook = 0\n" +
	"end\n" +
	"set target-async 0\n" +
	"maint set target-async 0\n" +
	"handle SIGURG stop\n"
