package rv32

import "fmt"

var branchNames = [8]string{"beq", "bne", "", "", "blt", "bge", "bltu", "bgeu"}
var loadNames = [8]string{"lb", "lh", "lw", "", "lbu", "lhu", "", ""}
var storeNames = [8]string{"sb", "sh", "sw", "", "", "", "", ""}
var aluImmNames = [8]string{"addi", "slli", "slti", "sltiu", "xori", "srli", "ori", "andi"}
var aluNames = [8]string{"add", "sll", "slt", "sltu", "xor", "srl", "or", "and"}
var mulNames = [8]string{"mul", "mulh", "mulhsu", "mulhu", "div", "divu", "rem", "remu"}
var csrNames = [8]string{"", "csrrw", "csrrs", "csrrc", "", "csrrwi", "csrrsi", "csrrci"}

// Disas renders one instruction for trace listings. It covers the same
// rv32im subset the interpreter executes; anything else comes back as a
// raw .word.
func Disas(pc, instr uint32) string {
	op := instr & 0x7F
	rd := RegNames[(instr>>7)&0x1F]
	f3 := (instr >> 12) & 0x7
	rs1 := RegNames[(instr>>15)&0x1F]
	rs2 := RegNames[(instr>>20)&0x1F]
	f7 := instr >> 25
	immI := int32(instr) >> 20

	switch op {
	case 0x37:
		return fmt.Sprintf("lui %s,0x%x", rd, instr>>12)
	case 0x17:
		return fmt.Sprintf("auipc %s,0x%x", rd, instr>>12)
	case 0x6F:
		imm := uint32((int32(instr)>>31)<<20 |
			int32((instr>>21)&0x3FF)<<1 |
			int32((instr>>20)&1)<<11 |
			int32((instr>>12)&0xFF)<<12)
		if rd == "zero" {
			return fmt.Sprintf("j 0x%x", pc+imm)
		}
		return fmt.Sprintf("jal %s,0x%x", rd, pc+imm)
	case 0x67:
		if f3 == 0 {
			if rd == "zero" && rs1 == "ra" && immI == 0 {
				return "ret"
			}
			return fmt.Sprintf("jalr %s,%d(%s)", rd, immI, rs1)
		}
	case 0x63:
		imm := uint32((int32(instr)>>31)<<12 |
			int32((instr>>25)&0x3F)<<5 |
			int32((instr>>8)&0xF)<<1 |
			int32((instr>>7)&1)<<11)
		if name := branchNames[f3]; name != "" {
			return fmt.Sprintf("%s %s,%s,0x%x", name, rs1, rs2, pc+imm)
		}
	case 0x03:
		if name := loadNames[f3]; name != "" {
			return fmt.Sprintf("%s %s,%d(%s)", name, rd, immI, rs1)
		}
	case 0x23:
		imm := (int32(instr)>>25)<<5 | int32((instr>>7)&0x1F)
		if name := storeNames[f3]; name != "" {
			return fmt.Sprintf("%s %s,%d(%s)", name, rs2, imm, rs1)
		}
	case 0x13:
		switch f3 {
		case 0:
			if rd == "zero" && rs1 == "zero" && immI == 0 {
				return "nop"
			}
			if immI == 0 {
				return fmt.Sprintf("mv %s,%s", rd, rs1)
			}
			return fmt.Sprintf("addi %s,%s,%d", rd, rs1, immI)
		case 1, 5:
			name := aluImmNames[f3]
			if f3 == 5 && instr>>30&1 == 1 {
				name = "srai"
			}
			return fmt.Sprintf("%s %s,%s,0x%x", name, rd, rs1, immI&0x1F)
		default:
			return fmt.Sprintf("%s %s,%s,%d", aluImmNames[f3], rd, rs1, immI)
		}
	case 0x33:
		switch {
		case f7 == 0x01:
			return fmt.Sprintf("%s %s,%s,%s", mulNames[f3], rd, rs1, rs2)
		case f7 == 0x20 && f3 == 0:
			return fmt.Sprintf("sub %s,%s,%s", rd, rs1, rs2)
		case f7 == 0x20 && f3 == 5:
			return fmt.Sprintf("sra %s,%s,%s", rd, rs1, rs2)
		case f7 == 0:
			return fmt.Sprintf("%s %s,%s,%s", aluNames[f3], rd, rs1, rs2)
		}
	case 0x0F:
		return "fence"
	case 0x73:
		switch {
		case instr == 0x00000073:
			return "ecall"
		case instr == 0x00100073:
			return "ebreak"
		case instr == 0x10500073:
			return "wfi"
		}
		if name := csrNames[f3]; name != "" {
			csr := instr >> 20
			if f3 >= 5 {
				return fmt.Sprintf("%s %s,0x%x,%d", name, rd, csr, (instr>>15)&0x1F)
			}
			return fmt.Sprintf("%s %s,0x%x,%s", name, rd, csr, rs1)
		}
	}
	return fmt.Sprintf(".word 0x%08x", instr)
}
